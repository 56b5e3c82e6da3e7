// Package ledger provides an append-only history of served requests and controller
// state changes, kept in SQLite for auditing.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventType EventType
	Timestamp time.Time
	Payload   map[string]any
	RequestID string
}

// Record is an entry waiting to be written.
type Record struct {
	EventType EventType
	Timestamp time.Time
	RequestID string
	Payload   map[string]any
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

const insertSQL = `INSERT INTO event_ledger (event_type, timestamp, payload, request_id) VALUES (?, ?, ?, ?)`

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, requestID string, payload map[string]any) error {
	return l.AppendBatch([]Record{{
		EventType: eventType,
		Timestamp: time.Now(),
		RequestID: requestID,
		Payload:   payload,
	}})
}

// AppendBatch writes records in a single transaction.
func (l *Ledger) AppendBatch(records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare ledger insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		var payloadJSON []byte
		if r.Payload != nil {
			payloadJSON, err = json.Marshal(r.Payload)
			if err != nil {
				return fmt.Errorf("failed to marshal payload: %w", err)
			}
		}
		if _, err := stmt.Exec(string(r.EventType), r.Timestamp.UTC().Unix(), string(payloadJSON), r.RequestID); err != nil {
			return fmt.Errorf("failed to insert ledger entry: %w", err)
		}
	}

	return tx.Commit()
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, request_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByRequest returns every entry recorded for a request id
func (l *Ledger) GetByRequest(requestID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, request_id
		FROM event_ledger
		WHERE request_id = ?
		ORDER BY id
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByTimeRange returns entries within a time range
func (l *Ledger) GetByTimeRange(start, end time.Time, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, request_id
		FROM event_ledger
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, start.Unix(), end.Unix(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, requestID sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &requestID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		if requestID.Valid {
			entry.RequestID = requestID.String
		}

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
