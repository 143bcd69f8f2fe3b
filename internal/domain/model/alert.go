package model

// AlertKind selects the message template of an outbound notification.
type AlertKind string

const (
	AlertDetection    AlertKind = "detection"
	AlertBinFull      AlertKind = "bin_full"
	AlertSystemStatus AlertKind = "system_status"
	AlertCustom       AlertKind = "custom"
	AlertStartup      AlertKind = "startup"
	AlertShutdown     AlertKind = "shutdown"
	AlertDailySummary AlertKind = "daily_summary"
	AlertText         AlertKind = "text"
)

// Alert is an outbound notification. Only the fields used by Kind's template are read.
type Alert struct {
	Kind AlertKind

	Detection *DetectionEvent // AlertDetection
	BinType   string          // AlertBinFull
	Level     float64         // AlertBinFull
	Status    string          // AlertSystemStatus
	Title     string          // AlertCustom
	Emoji     string          // AlertCustom
	Message   string          // AlertSystemStatus, AlertCustom, AlertShutdown, AlertText
	Stats     *Stats          // AlertDailySummary
}
