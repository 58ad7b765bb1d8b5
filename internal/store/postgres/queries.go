package postgres

const queryListActiveSchedules = `
SELECT
    id, title, description,
    recurrence, reminder,
    assignee_name, assignee_address,
    status, created_at, updated_at
FROM schedules
WHERE status = 'active'
ORDER BY created_at
`

const queryInsertTickAudit = `
INSERT INTO tick_audit (id, at, since_prev_ms, checked, sent, skipped, errors)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryLastTickAt = `
SELECT at FROM tick_audit ORDER BY at DESC LIMIT 1
`

const queryRecentTicks = `
SELECT id, at, since_prev_ms, checked, sent, skipped, errors
FROM tick_audit
ORDER BY at DESC
LIMIT $1
`
