// Command webhook-receiver is a development sink for remindd deliveries.
// Point a schedule's recipient address at /hook and watch reminders land.
// When SECRET is set, incoming X-Remindd-Signature headers are verified
// and forged posts are rejected.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/helvetiche/remindd/internal/notify"
)

type delivery struct {
	ReceivedAt string `json:"received_at"`
	MessageID  string `json:"message_id"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Verified   bool   `json:"verified"`
}

type stats struct {
	Count          int64      `json:"count"`
	RejectedCount  int64      `json:"rejected_count"`
	LastDeliveries []delivery `json:"last_deliveries"`
	Since          string     `json:"since"`
}

var (
	mu             sync.Mutex
	count          int64
	rejected       int64
	lastDeliveries []delivery
	since          time.Time
	maxStored      = 50

	secret = os.Getenv("SECRET")
)

func main() {
	since = time.Now().UTC()

	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	if secret == "" {
		log.Println("SECRET not set; signature verification disabled")
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		rejected = 0
		lastDeliveries = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("webhook-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	verified := false
	if secret != "" {
		sig := r.Header.Get("X-Remindd-Signature")
		if !notify.VerifySignature(secret, body, sig) {
			mu.Lock()
			rejected++
			current := rejected
			mu.Unlock()
			log.Printf("rejected #%d: bad signature %q", current, sig)
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintln(w, `{"error":"bad signature"}`)
			return
		}
		verified = true
	}

	var payload notify.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("undecodable body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, `{"error":"bad payload"}`)
		return
	}

	d := delivery{
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		MessageID:  payload.MessageID,
		Subject:    payload.Subject,
		Body:       payload.Body,
		Verified:   verified,
	}

	mu.Lock()
	count++
	lastDeliveries = append(lastDeliveries, d)
	if len(lastDeliveries) > maxStored {
		lastDeliveries = lastDeliveries[len(lastDeliveries)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("delivery #%d: message_id=%s subject=%q", current, payload.MessageID, payload.Subject)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:          count,
		RejectedCount:  rejected,
		LastDeliveries: lastDeliveries,
		Since:          since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
