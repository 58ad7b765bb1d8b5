package main

import (
	"log"
	"time"

	"github.com/helvetiche/remindd/internal/config"
)

// logConfigWarnings reports configuration combinations that pass validation
// but deserve operator attention. It uses the standard logger so the lines
// land next to the parse warnings emitted by config.Load.
func logConfigWarnings(cfg config.Config) {
	// Specialization of the REDIS_ADDR warning: with leader election the
	// whole point is running several instances, so losing shared markers
	// on failover means resending reminders the old leader already sent.
	if cfg.LeaderElectionEnabled && cfg.RedisAddr == "" {
		log.Println("WARNING [P0]: LEADER_ELECTION_ENABLED=true with REDIS_ADDR unset: sent markers die with the leader and a failover can resend already-delivered reminders")
	}

	if cfg.RedisAddr == "" {
		log.Println("WARNING [P0]: REDIS_ADDR not set: sent markers and the schedule snapshot are held in-process; running more than one instance can double-send reminders")
	}

	if !cfg.MetricsEnabled {
		log.Println("WARNING [P1]: METRICS_ENABLED=false: tick outcomes are only visible in logs")
	}

	if !cfg.TickLoopEnabled {
		log.Println("INFO: TICK_LOOP_ENABLED=false: reminders dispatch only when an external scheduler calls /v1/tick")
	}

	if cfg.DispatchWorkers == 1 {
		log.Println("INFO: DISPATCH_WORKERS=1: due reminders are delivered one at a time; a slow receiver delays the rest of the tick")
	}

	if cfg.MarkerMaxAge > 0 && cfg.MarkerMaxAge < 24*time.Hour {
		log.Printf("INFO: MARKER_MAX_AGE=%s is shorter than one local day: daily sent markers are purged while their day is still current, so duplicate protection past cleanup depends on the dispatch window staying narrow", cfg.MarkerMaxAge)
	}
}
