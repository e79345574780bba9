package models

import "time"

// MetricSample is one accepted ingestion as stored in the metric log.
type MetricSample struct {
	NodeID        string
	Timestamp     time.Time
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	NetRxDelta    uint64
	NetTxDelta    uint64
	NetRxTotal    uint64
	NetTxTotal    uint64
	UptimeSeconds uint64
}

// MetricPoint is the reduced row served by the range endpoint.
type MetricPoint struct {
	TS     int64   `json:"ts"`
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
}
