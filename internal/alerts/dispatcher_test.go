package alerts

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"polymercado/internal/config"
	"polymercado/pkg/types"
)

type fakeAlertStore struct {
	pending []types.SignalEvent
	log     []types.AlertLogEntry
}

func (s *fakeAlertStore) UndispatchedSignals(_ context.Context, afterID int64, limit int) ([]types.SignalEvent, error) {
	var out []types.SignalEvent
	for _, ev := range s.pending {
		if ev.ID > afterID && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) LastAlert(_ context.Context, channel, key string) (*types.AlertLogEntry, error) {
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].Channel == channel && s.log[i].NotificationKey == key {
			entry := s.log[i]
			return &entry, nil
		}
	}
	return nil, nil
}

func (s *fakeAlertStore) InsertAlertLog(_ context.Context, entry types.AlertLogEntry) error {
	entry.ID = int64(len(s.log) + 1)
	s.log = append(s.log, entry)
	return nil
}

func (s *fakeAlertStore) statuses(channel string) []types.AlertStatus {
	var out []types.AlertStatus
	for _, entry := range s.log {
		if entry.Channel == channel {
			out = append(out, entry.Status)
		}
	}
	return out
}

type recordingChannel struct {
	name string
	sent []Message
	fail int // fail the first N sends
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Send(_ context.Context, msg Message) error {
	if c.fail > 0 {
		c.fail--
		return errors.New("downstream unavailable")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func testDispatcher(t *testing.T, store *fakeAlertStore, channel *recordingChannel) *Dispatcher {
	t.Helper()
	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.AlertsEnabled = true
	cfg.AlertMinSeverity = 2
	channels := map[string]Channel{channel.name: channel}
	return NewDispatcher(store, channels, nil, cfg, slog.Default())
}

func arbSignal(id int64, severity int, createdAt time.Time) types.SignalEvent {
	return types.SignalEvent{
		ID:          id,
		Type:        types.SignalArbBuyBoth,
		DedupeKey:   "k" + time.Now().String(),
		CreatedAt:   createdAt,
		Severity:    severity,
		ConditionID: "0xC1",
		Payload: map[string]any{
			"edge_at_q_max":   0.012,
			"q_max":           200.0,
			"top_of_book_sum": 0.98,
		},
	}
}

func TestDispatchDedupesWithinWindow(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := &fakeAlertStore{pending: []types.SignalEvent{
		arbSignal(1, 3, now),
		arbSignal(2, 3, now.Add(30*time.Second)),
	}}
	channel := &recordingChannel{name: "log"}
	d := testDispatcher(t, store, channel)

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(channel.sent) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(channel.sent))
	}
	got := store.statuses("log")
	if len(got) != 2 || got[0] != types.AlertSent || got[1] != types.AlertSuppressed {
		t.Errorf("log statuses = %v, want [SENT SUPPRESSED]", got)
	}
}

func TestDispatchHigherSeverityBreaksDedupe(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := &fakeAlertStore{pending: []types.SignalEvent{
		arbSignal(1, 3, now),
		arbSignal(2, 4, now.Add(30*time.Second)),
	}}
	channel := &recordingChannel{name: "log"}
	d := testDispatcher(t, store, channel)

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(channel.sent) != 2 {
		t.Errorf("deliveries = %d, want 2 (severity escalated)", len(channel.sent))
	}
}

func TestDispatchBelowMinSeverityFiltered(t *testing.T) {
	t.Parallel()

	store := &fakeAlertStore{pending: []types.SignalEvent{
		arbSignal(1, 1, time.Now().UTC()),
	}}
	channel := &recordingChannel{name: "log"}
	d := testDispatcher(t, store, channel)

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(channel.sent) != 0 || len(store.log) != 0 {
		t.Errorf("sent=%d log=%d, want no delivery and no log rows", len(channel.sent), len(store.log))
	}

	// The cursor moved past the filtered signal: a second run stays quiet.
	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(store.log) != 0 {
		t.Errorf("rerun produced %d log rows", len(store.log))
	}
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	store := &fakeAlertStore{pending: []types.SignalEvent{
		arbSignal(1, 3, time.Now().UTC()),
	}}
	channel := &recordingChannel{name: "log", fail: 1}
	d := testDispatcher(t, store, channel)
	d.cfg.AlertMaxAttempts = 3

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(channel.sent) != 1 {
		t.Errorf("deliveries = %d, want 1 after retry", len(channel.sent))
	}
	got := store.statuses("log")
	if len(got) != 1 || got[0] != types.AlertSent {
		t.Errorf("log statuses = %v, want [SENT]", got)
	}
}

func TestDispatchRecordsFailure(t *testing.T) {
	t.Parallel()

	store := &fakeAlertStore{pending: []types.SignalEvent{
		arbSignal(1, 3, time.Now().UTC()),
	}}
	channel := &recordingChannel{name: "log", fail: 10}
	d := testDispatcher(t, store, channel)
	d.cfg.AlertMaxAttempts = 2

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := store.statuses("log")
	if len(got) != 1 || got[0] != types.AlertFailed {
		t.Errorf("log statuses = %v, want [FAILED]", got)
	}
	if store.log[0].Error == "" {
		t.Error("FAILED row missing error text")
	}
}

func TestRuleRouting(t *testing.T) {
	t.Parallel()

	store := &fakeAlertStore{pending: []types.SignalEvent{
		arbSignal(1, 3, time.Now().UTC()),
		{ID: 2, Type: types.SignalNewMarket, DedupeKey: "nm", Severity: 2,
			ConditionID: "0xC2", CreatedAt: time.Now().UTC(), Payload: map[string]any{}},
	}}
	logCh := &recordingChannel{name: "log"}
	slackCh := &recordingChannel{name: "slack"}

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg.AlertsEnabled = true
	rules := []Rule{
		{Types: []types.SignalType{types.SignalArbBuyBoth}, MinSeverity: 2, Channels: []string{"slack"}},
		{MinSeverity: 2, Channels: []string{"log"}},
	}
	d := NewDispatcher(store, map[string]Channel{"log": logCh, "slack": slackCh}, rules, cfg, slog.Default())

	if _, err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(slackCh.sent) != 1 || slackCh.sent[0].Type != types.SignalArbBuyBoth {
		t.Errorf("slack got %d messages, want the arb signal only", len(slackCh.sent))
	}
	if len(logCh.sent) != 1 || logCh.sent[0].Type != types.SignalNewMarket {
		t.Errorf("log got %d messages, want the new market signal only", len(logCh.sent))
	}
}

func TestFormatIncludesDeepLink(t *testing.T) {
	t.Parallel()

	msg := Format(arbSignal(42, 3, time.Now().UTC()), "http://localhost:8000/")
	if msg.Link != "http://localhost:8000/signals/42" {
		t.Errorf("link = %s", msg.Link)
	}
	if msg.Subject != "[S3] ARB_BUY_BOTH" {
		t.Errorf("subject = %s", msg.Subject)
	}
}
