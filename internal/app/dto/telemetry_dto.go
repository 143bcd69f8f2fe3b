package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/relvacode/iso8601"

	"smartBin/internal/domain/model"
)

// ErrDecode marks an inbound payload that cannot be turned into a typed event.
var ErrDecode = errors.New("decode telemetry")

// Timestamp accepts RFC 3339, ISO 8601 without a zone (read as UTC) and numeric epoch seconds
// or milliseconds. null and "" leave it zero.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
		parsed, err := iso8601.ParseString(s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}

	epoch, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", b, err)
	}
	if epoch > 1e12 {
		epoch /= 1000
	}
	sec, frac := math.Modf(epoch)
	t.Time = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	return nil
}

// DetectionDTO is the wire shape of a detection message.
type DetectionDTO struct {
	ID          string    `json:"id"`
	Timestamp   Timestamp `json:"timestamp"`
	Object      string    `json:"object"`
	Label       string    `json:"label"`
	Destination string    `json:"destination"`
	Confidence  float64   `json:"confidence"`
}

// ToModel validates the DTO and converts it, filling the id and timestamp when absent.
func (d *DetectionDTO) ToModel(receivedAt time.Time) (*model.DetectionEvent, error) {
	dest := model.Destination(strings.ToLower(strings.TrimSpace(d.Destination)))
	if dest == "" {
		dest = model.DestinationNone
	}
	if !dest.Valid() {
		return nil, fmt.Errorf("unknown destination %q", d.Destination)
	}
	if d.Confidence < 0 || d.Confidence > 100 || math.IsNaN(d.Confidence) {
		return nil, fmt.Errorf("confidence %v out of range", d.Confidence)
	}

	label := d.Object
	if label == "" {
		label = d.Label
	}
	id := d.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := d.Timestamp.Time
	if ts.IsZero() {
		ts = receivedAt
	}

	return &model.DetectionEvent{
		ID:          id,
		Timestamp:   ts,
		ObjectLabel: label,
		Destination: dest,
		Confidence:  d.Confidence,
	}, nil
}

// BinStatusDTO is the wire shape of a bin level snapshot.
type BinStatusDTO struct {
	Timestamp Timestamp          `json:"timestamp"`
	Levels    map[string]float64 `json:"levels"`
}

func (d *BinStatusDTO) ToModel(receivedAt time.Time) (*model.BinStatusEvent, error) {
	if len(d.Levels) == 0 {
		return nil, errors.New("levels missing")
	}
	levels := make(map[string]float64, len(d.Levels))
	for bin, level := range d.Levels {
		if bin == "" {
			return nil, errors.New("empty bin type")
		}
		if level < 0 || level > 100 || math.IsNaN(level) {
			return nil, fmt.Errorf("bin %s level %v out of range", bin, level)
		}
		levels[bin] = level
	}
	ts := d.Timestamp.Time
	if ts.IsZero() {
		ts = receivedAt
	}
	return &model.BinStatusEvent{Timestamp: ts, Levels: levels}, nil
}

// SystemDTO is the wire shape of a device health message.
type SystemDTO struct {
	Timestamp Timestamp      `json:"timestamp"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
}

func (d *SystemDTO) ToModel(receivedAt time.Time) (*model.SystemEvent, error) {
	if d.Status == "" && d.Message == "" {
		return nil, errors.New("status and message both empty")
	}
	ts := d.Timestamp.Time
	if ts.IsZero() {
		ts = receivedAt
	}
	return &model.SystemEvent{Timestamp: ts, Status: d.Status, Message: d.Message, Details: d.Details}, nil
}

// AlertDTO is the wire shape of a custom alert.
type AlertDTO struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Emoji   string `json:"emoji"`
}

func (d *AlertDTO) ToModel() (*model.CustomAlert, error) {
	if d.Title == "" && d.Message == "" {
		return nil, errors.New("title and message both empty")
	}
	return &model.CustomAlert{Title: d.Title, Message: d.Message, Emoji: d.Emoji}, nil
}

// Decode turns a raw bus payload into an Envelope of the given kind.
// Every failure wraps ErrDecode.
func Decode(kind model.EventKind, topic string, payload []byte, receivedAt time.Time) (model.Envelope, error) {
	env := model.Envelope{
		Kind:       kind,
		Topic:      topic,
		ReceivedAt: receivedAt,
		Payload:    json.RawMessage(append([]byte(nil), payload...)),
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return env, fmt.Errorf("%w: %s payload on %s is not a JSON object", ErrDecode, kind, topic)
	}

	var err error
	switch kind {
	case model.KindDetection:
		var d DetectionDTO
		if err = json.Unmarshal(trimmed, &d); err == nil {
			env.Detection, err = d.ToModel(receivedAt)
		}
	case model.KindBinStatus:
		var d BinStatusDTO
		if err = json.Unmarshal(trimmed, &d); err == nil {
			env.BinStatus, err = d.ToModel(receivedAt)
		}
	case model.KindSystem:
		var d SystemDTO
		if err = json.Unmarshal(trimmed, &d); err == nil {
			env.System, err = d.ToModel(receivedAt)
		}
	case model.KindAlert:
		var d AlertDTO
		if err = json.Unmarshal(trimmed, &d); err == nil {
			env.Alert, err = d.ToModel()
		}
	default:
		err = fmt.Errorf("unknown kind %q", kind)
	}
	if err != nil {
		return env, fmt.Errorf("%w: %s on %s: %v", ErrDecode, kind, topic, err)
	}
	return env, nil
}
