package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"smartBin/internal/domain/model"
	"smartBin/internal/domain/useCases"
)

// DefaultNotifyTimeout bounds a single delivery attempt.
const DefaultNotifyTimeout = 5 * time.Second

var (
	ErrUnknownAlertKind = errors.New("unknown alert kind")
	ErrIncompleteAlert  = errors.New("alert is missing fields required by its template")
)

// Channel delivers an already formatted message to the external messaging service.
type Channel interface {
	SendText(ctx context.Context, text string) error
}

// DispatchRecorder observes delivery outcomes.
type DispatchRecorder interface {
	NotificationSent(kind string, ok bool)
}

// NotificationDispatcher formats alerts and makes exactly one bounded delivery attempt per call.
type NotificationDispatcher struct {
	channel Channel
	timeout time.Duration
	metrics DispatchRecorder
	log     *slog.Logger
}

// NewNotificationDispatcher creates a dispatcher. A nil channel turns every Send into a reported failure.
func NewNotificationDispatcher(channel Channel, timeout time.Duration, metrics DispatchRecorder, logger *slog.Logger) *NotificationDispatcher {
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &NotificationDispatcher{channel: channel, timeout: timeout, metrics: metrics, log: logger}
}

// Enabled reports whether a channel is configured.
func (d *NotificationDispatcher) Enabled() bool {
	return d.channel != nil
}

// Send formats the alert and delivers it. It never panics into the caller and never retries;
// the return value is the delivery outcome.
func (d *NotificationDispatcher) Send(ctx context.Context, alert model.Alert) bool {
	ok := d.send(ctx, alert)
	if d.metrics != nil {
		d.metrics.NotificationSent(string(alert.Kind), ok)
	}
	return ok
}

func (d *NotificationDispatcher) send(ctx context.Context, alert model.Alert) bool {
	if d.channel == nil {
		d.log.Debug("notification channel not configured, alert dropped", "kind", alert.Kind)
		return false
	}
	text, err := FormatAlert(alert)
	if err != nil {
		d.log.Warn("cannot format alert", "kind", alert.Kind, "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.channel.SendText(ctx, text); err != nil {
		d.log.Error("notification delivery failed", "kind", alert.Kind, "error", err)
		return false
	}
	d.log.Debug("notification delivered", "kind", alert.Kind)
	return true
}

var destinationEmoji = map[model.Destination]string{
	model.DestinationDry:        "📦",
	model.DestinationWet:        "🍃",
	model.DestinationElectronic: "🔌",
	model.DestinationNone:       "❔",
}

// FormatAlert renders the fixed text template for the alert's kind.
func FormatAlert(alert model.Alert) (string, error) {
	var b strings.Builder

	switch alert.Kind {
	case model.AlertDetection:
		det := alert.Detection
		if det == nil {
			return "", fmt.Errorf("%w: detection", ErrIncompleteAlert)
		}
		b.WriteString("♻️ New item sorted\n")
		fmt.Fprintf(&b, "Object: %s\n", labelOrUnknown(det.ObjectLabel))
		fmt.Fprintf(&b, "Bin: %s %s\n", destinationEmoji[det.Destination], strings.ToUpper(string(det.Destination)))
		fmt.Fprintf(&b, "Confidence: %s\n", formatConfidence(det.Confidence))
		fmt.Fprintf(&b, "Time: %s", formatTime(det.Timestamp))

	case model.AlertBinFull:
		if alert.BinType == "" {
			return "", fmt.Errorf("%w: bin type", ErrIncompleteAlert)
		}
		b.WriteString("🚨 Bin almost full\n")
		fmt.Fprintf(&b, "Bin: %s\n", strings.ToUpper(alert.BinType))
		fmt.Fprintf(&b, "Fill level: %.0f%%\n", alert.Level)
		b.WriteString("Please empty it soon.")

	case model.AlertSystemStatus:
		if alert.Status == "" || alert.Message == "" {
			return "", fmt.Errorf("%w: status and message", ErrIncompleteAlert)
		}
		fmt.Fprintf(&b, "%s System %s\n", statusEmoji(alert.Status), alert.Status)
		b.WriteString(alert.Message)

	case model.AlertCustom:
		if alert.Title == "" || alert.Message == "" {
			return "", fmt.Errorf("%w: title and message", ErrIncompleteAlert)
		}
		emoji := alert.Emoji
		if emoji == "" {
			emoji = "📢"
		}
		fmt.Fprintf(&b, "%s %s\n", emoji, alert.Title)
		b.WriteString(alert.Message)

	case model.AlertStartup:
		b.WriteString("🟢 Smart Bin server started\n")
		b.WriteString("Monitoring detections and bin levels.")

	case model.AlertShutdown:
		msg := alert.Message
		if msg == "" {
			msg = "Server shutting down gracefully"
		}
		b.WriteString("🔴 Smart Bin server stopping\n")
		b.WriteString(msg)

	case model.AlertDailySummary:
		s := alert.Stats
		if s == nil {
			return "", fmt.Errorf("%w: stats", ErrIncompleteAlert)
		}
		b.WriteString("📊 Daily summary\n")
		fmt.Fprintf(&b, "Total detections: %d\n", s.TotalDetections)
		for _, dest := range model.Destinations {
			fmt.Fprintf(&b, "%s %s: %d\n", destinationEmoji[dest], dest, s.CountsByDestination[dest])
		}
		if n := len(s.CountsByDay); n > 0 {
			days := make([]string, 0, n)
			for day := range s.CountsByDay {
				days = append(days, day)
			}
			sort.Strings(days)
			last := days[len(days)-1]
			fmt.Fprintf(&b, "Latest day %s: %d\n", last, s.CountsByDay[last])
		}
		if s.LastDetection != nil {
			fmt.Fprintf(&b, "Last item: %s at %s", labelOrUnknown(s.LastDetection.ObjectLabel), formatTime(s.LastDetection.Timestamp))
		} else {
			b.WriteString("No items yet.")
		}

	case model.AlertText:
		if alert.Message == "" {
			return "", fmt.Errorf("%w: message", ErrIncompleteAlert)
		}
		b.WriteString(alert.Message)

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAlertKind, alert.Kind)
	}

	return b.String(), nil
}

func labelOrUnknown(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}

// formatConfidence accepts both a 0-1 score and a percentage.
func formatConfidence(c float64) string {
	if c <= 1 {
		c *= 100
	}
	return fmt.Sprintf("%.1f%%", c)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

func statusEmoji(status string) string {
	switch strings.ToLower(status) {
	case "online", "ok", "healthy", "running":
		return "✅"
	case "warning", "degraded":
		return "⚠️"
	case "error", "offline", "critical":
		return "❌"
	case "shutdown":
		return "🔴"
	}
	return "ℹ️"
}

var _ useCases.Notifier = (*NotificationDispatcher)(nil)
