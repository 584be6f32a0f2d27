// Package alerts routes emitted signals to downstream notification
// channels with per-channel dedupe and delivery logging.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"polymercado/internal/config"
	"polymercado/internal/metrics"
	"polymercado/pkg/types"
)

const dispatchBatchLimit = 200

// Store is the persistence surface the dispatcher needs.
type Store interface {
	UndispatchedSignals(ctx context.Context, afterID int64, limit int) ([]types.SignalEvent, error)
	LastAlert(ctx context.Context, channel, notificationKey string) (*types.AlertLogEntry, error)
	InsertAlertLog(ctx context.Context, entry types.AlertLogEntry) error
}

// Rule filters and routes signals. Rules are evaluated in declared order;
// the first match decides the channels. A nil Types list matches every
// signal type; a nil Channels list routes to all configured channels.
type Rule struct {
	Types       []types.SignalType
	MinSeverity int
	Channels    []string
}

func (r Rule) matches(ev types.SignalEvent) bool {
	if ev.Severity < r.MinSeverity {
		return false
	}
	if len(r.Types) == 0 {
		return true
	}
	for _, t := range r.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// Dispatcher reads signals without a SENT delivery and pushes them to the
// configured channels, writing one AlertLog row per channel per attempt
// outcome.
type Dispatcher struct {
	store    Store
	channels map[string]Channel
	rules    []Rule
	cfg      *config.Settings
	logger   *slog.Logger

	cursor int64
}

// NewDispatcher builds the dispatcher. With no explicit rules a single
// default rule applies: every signal type, ALERT_MIN_SEVERITY, all
// configured channels.
func NewDispatcher(store Store, channels map[string]Channel, rules []Rule, cfg *config.Settings, logger *slog.Logger) *Dispatcher {
	if len(rules) == 0 {
		rules = []Rule{{MinSeverity: cfg.AlertMinSeverity}}
	}
	return &Dispatcher{
		store:    store,
		channels: channels,
		rules:    rules,
		cfg:      cfg,
		logger:   logger.With("component", "alert_dispatcher"),
	}
}

// Run processes one batch of pending signals. Returns the number of
// deliveries attempted.
func (d *Dispatcher) Run(ctx context.Context) (int, error) {
	if !d.cfg.AlertsEnabled || len(d.channels) == 0 {
		return 0, nil
	}

	events, err := d.store.UndispatchedSignals(ctx, d.cursor, dispatchBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("load pending signals: %w", err)
	}

	attempts := 0
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		channelNames := d.route(ev)
		for _, name := range channelNames {
			channel, ok := d.channels[name]
			if !ok {
				continue
			}
			if err := d.deliver(ctx, channel, ev); err != nil {
				return attempts, err
			}
			attempts++
		}
		d.cursor = ev.ID
	}
	return attempts, nil
}

// route returns the channel names for a signal: first matching rule wins,
// no match means no delivery.
func (d *Dispatcher) route(ev types.SignalEvent) []string {
	for _, rule := range d.rules {
		if !rule.matches(ev) {
			continue
		}
		if len(rule.Channels) > 0 {
			return rule.Channels
		}
		names := make([]string, 0, len(d.channels))
		for name := range d.channels {
			names = append(names, name)
		}
		return names
	}
	return nil
}

// NotificationKey groups deliveries that describe the same subject: same
// signal type about the same wallet, or failing that the same market.
func NotificationKey(ev types.SignalEvent) string {
	subject := ev.Wallet
	if subject == "" {
		subject = ev.ConditionID
	}
	return fmt.Sprintf("%s:%s", ev.Type, subject)
}

func (d *Dispatcher) deliver(ctx context.Context, channel Channel, ev types.SignalEvent) error {
	now := time.Now().UTC()
	key := NotificationKey(ev)

	prior, err := d.store.LastAlert(ctx, channel.Name(), key)
	if err != nil {
		return fmt.Errorf("dedupe lookup %s/%s: %w", channel.Name(), key, err)
	}
	window := time.Duration(d.cfg.AlertDedupWindowSeconds) * time.Second
	if prior != nil && prior.Status == types.AlertSent &&
		now.Sub(prior.SentAt) <= window && ev.Severity <= prior.Severity {
		metrics.AlertDeliveries.WithLabelValues(channel.Name(), string(types.AlertSuppressed)).Inc()
		return d.log(ctx, ev, channel.Name(), key, now, types.AlertSuppressed, "")
	}

	msg := Format(ev, d.cfg.SignalBaseURL)
	sendErr := d.send(ctx, channel, msg)
	if sendErr != nil {
		d.logger.Error("alert delivery failed",
			"channel", channel.Name(),
			"signal_id", ev.ID,
			"type", ev.Type,
			"error", sendErr,
		)
		metrics.AlertDeliveries.WithLabelValues(channel.Name(), string(types.AlertFailed)).Inc()
		return d.log(ctx, ev, channel.Name(), key, now, types.AlertFailed, sendErr.Error())
	}

	d.logger.Info("alert delivered",
		"channel", channel.Name(),
		"signal_id", ev.ID,
		"type", ev.Type,
		"severity", ev.Severity,
	)
	metrics.AlertDeliveries.WithLabelValues(channel.Name(), string(types.AlertSent)).Inc()
	return d.log(ctx, ev, channel.Name(), key, now, types.AlertSent, "")
}

// send retries a channel delivery with exponential backoff up to
// ALERT_MAX_ATTEMPTS.
func (d *Dispatcher) send(ctx context.Context, channel Channel, msg Message) error {
	wait := backoff.NewExponentialBackOff()
	wait.InitialInterval = 500 * time.Millisecond
	wait.MaxInterval = 5 * time.Second

	maxAttempts := d.cfg.AlertMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = channel.Send(ctx, msg); lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		sleep := wait.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
	return lastErr
}

func (d *Dispatcher) log(ctx context.Context, ev types.SignalEvent, channel, key string, at time.Time, status types.AlertStatus, errText string) error {
	entry := types.AlertLogEntry{
		SignalEventID:   ev.ID,
		Channel:         channel,
		NotificationKey: key,
		SentAt:          at,
		Status:          status,
		Severity:        ev.Severity,
		Error:           errText,
	}
	if err := d.store.InsertAlertLog(ctx, entry); err != nil {
		return fmt.Errorf("record alert log: %w", err)
	}
	return nil
}
