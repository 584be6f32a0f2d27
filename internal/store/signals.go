package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"polymercado/pkg/types"
)

type signalRow struct {
	ID          int64          `db:"id"`
	Type        string         `db:"signal_type"`
	DedupeKey   string         `db:"dedupe_key"`
	CreatedAt   time.Time      `db:"created_at"`
	Severity    int            `db:"severity"`
	Wallet      sql.NullString `db:"wallet"`
	ConditionID sql.NullString `db:"condition_id"`
	Payload     []byte         `db:"payload"`
}

func (r signalRow) toEvent() (types.SignalEvent, error) {
	payload := map[string]any{}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			return types.SignalEvent{}, fmt.Errorf("decode payload of signal %d: %w", r.ID, err)
		}
	}
	return types.SignalEvent{
		ID:          r.ID,
		Type:        types.SignalType(r.Type),
		DedupeKey:   r.DedupeKey,
		CreatedAt:   r.CreatedAt,
		Severity:    r.Severity,
		Wallet:      r.Wallet.String,
		ConditionID: r.ConditionID.String,
		Payload:     payload,
	}, nil
}

// InsertSignal appends a signal event. Returns false without error when
// the dedupe key is already present.
func (s *Store) InsertSignal(ctx context.Context, ev types.SignalEvent) (bool, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return false, fmt.Errorf("encode payload for %s: %w", ev.DedupeKey, err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO signal_events (
			signal_type, dedupe_key, created_at, severity, wallet, condition_id, payload
		) VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		string(ev.Type), ev.DedupeKey, ev.CreatedAt, ev.Severity,
		ev.Wallet, ev.ConditionID, payload,
	)
	if err != nil {
		return false, fmt.Errorf("insert signal %s: %w", ev.DedupeKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert signal %s: %w", ev.DedupeKey, err)
	}
	return n > 0, nil
}

// HasRecentSignal reports whether a signal of the given type was emitted
// for the market at or after since. The arb engine uses it as a cooldown.
func (s *Store) HasRecentSignal(ctx context.Context, signalType types.SignalType, conditionID string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM signal_events
			WHERE signal_type = $1 AND condition_id = $2 AND created_at >= $3
		)`, string(signalType), conditionID, since)
	if err != nil {
		return false, fmt.Errorf("recent signal check %s/%s: %w", signalType, conditionID, err)
	}
	return exists, nil
}

// UndispatchedSignals returns signals after the cursor that have no SENT
// delivery yet, oldest first. The dispatcher keeps an in-memory cursor so
// rule-filtered signals are not rescanned every tick.
func (s *Store) UndispatchedSignals(ctx context.Context, afterID int64, limit int) ([]types.SignalEvent, error) {
	var rows []signalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT se.*
		FROM signal_events se
		WHERE se.id > $1 AND NOT EXISTS (
			SELECT 1 FROM alert_log al
			WHERE al.signal_event_id = se.id AND al.status = 'SENT'
		)
		ORDER BY se.id ASC
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("undispatched signals: %w", err)
	}
	out := make([]types.SignalEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := r.toEvent()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// LastAlert returns the most recent delivery attempt for a notification
// key on a channel, nil when none exists.
func (s *Store) LastAlert(ctx context.Context, channel, notificationKey string) (*types.AlertLogEntry, error) {
	var row struct {
		ID              int64          `db:"id"`
		SignalEventID   int64          `db:"signal_event_id"`
		Channel         string         `db:"channel"`
		NotificationKey string         `db:"notification_key"`
		SentAt          time.Time      `db:"sent_at"`
		Status          string         `db:"status"`
		Severity        int            `db:"severity"`
		Error           sql.NullString `db:"error"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, signal_event_id, channel, notification_key, sent_at, status, severity, error
		FROM alert_log
		WHERE channel = $1 AND notification_key = $2
		ORDER BY sent_at DESC
		LIMIT 1`, channel, notificationKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last alert %s/%s: %w", channel, notificationKey, err)
	}
	return &types.AlertLogEntry{
		ID:              row.ID,
		SignalEventID:   row.SignalEventID,
		Channel:         row.Channel,
		NotificationKey: row.NotificationKey,
		SentAt:          row.SentAt,
		Status:          types.AlertStatus(row.Status),
		Severity:        row.Severity,
		Error:           row.Error.String,
	}, nil
}

// InsertAlertLog records one delivery attempt.
func (s *Store) InsertAlertLog(ctx context.Context, entry types.AlertLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_log (
			signal_event_id, channel, notification_key, sent_at, status, severity, error
		) VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''))`,
		entry.SignalEventID, entry.Channel, entry.NotificationKey,
		entry.SentAt, string(entry.Status), entry.Severity, entry.Error,
	)
	if err != nil {
		return fmt.Errorf("insert alert log for signal %d: %w", entry.SignalEventID, err)
	}
	return nil
}
