package model

import (
	"encoding/json"
	"time"
)

// Destination is the bin a classified object was routed to.
type Destination string

const (
	DestinationDry        Destination = "dry"
	DestinationWet        Destination = "wet"
	DestinationElectronic Destination = "electronic"
	DestinationNone       Destination = "none"
)

// Destinations lists every valid destination in display order.
var Destinations = []Destination{DestinationDry, DestinationWet, DestinationElectronic, DestinationNone}

// Valid reports whether d is one of the known destinations.
func (d Destination) Valid() bool {
	switch d {
	case DestinationDry, DestinationWet, DestinationElectronic, DestinationNone:
		return true
	}
	return false
}

// EventKind identifies the typed event a topic carries.
type EventKind string

const (
	KindDetection EventKind = "detection"
	KindBinStatus EventKind = "binStatus"
	KindSystem    EventKind = "system"
	KindAlert     EventKind = "alert"
)

// DetectionEvent is one classification result reported by the device. Immutable once recorded.
type DetectionEvent struct {
	ID          string      `json:"id"`
	Timestamp   time.Time   `json:"timestamp"`
	ObjectLabel string      `json:"object"`
	Destination Destination `json:"destination"`
	Confidence  float64     `json:"confidence"`
}

// BinStatusEvent is a point-in-time snapshot of bin fill levels (percent, 0-100).
type BinStatusEvent struct {
	Timestamp time.Time          `json:"timestamp"`
	Levels    map[string]float64 `json:"levels"`
}

// SystemEvent reports device health.
type SystemEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// CustomAlert is a free-form alert published by the device or an operator.
type CustomAlert struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Emoji   string `json:"emoji,omitempty"`
}

// Envelope carries one decoded inbound message. Exactly one of the typed fields is set,
// matching Kind. Payload is the original message body, relayed to dashboards unmodified.
type Envelope struct {
	Kind       EventKind
	Topic      string
	ReceivedAt time.Time
	Payload    json.RawMessage

	Detection *DetectionEvent
	BinStatus *BinStatusEvent
	System    *SystemEvent
	Alert     *CustomAlert
}

// Stats holds the counters derived from the detection history.
type Stats struct {
	TotalDetections     int                 `json:"total_detections"`
	CountsByDestination map[Destination]int `json:"counts_by_destination"`
	CountsByDay         map[string]int      `json:"counts_by_day"`
	LastDetection       *DetectionEvent     `json:"last_detection,omitempty"`
}

// AlertState is the threshold monitor's view of one bin.
type AlertState struct {
	BinType   string  `json:"bin_type"`
	LastLevel float64 `json:"last_level"`
	HasLevel  bool    `json:"has_level"`
	Active    bool    `json:"alert_active"`
}

// BinTransition is a bin that just entered the alerting state.
type BinTransition struct {
	BinType string  `json:"bin_type"`
	Level   float64 `json:"level"`
}
