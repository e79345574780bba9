package models

import (
	"regexp"
	"time"
)

// NodeIDPattern is the accepted shape of a node identity.
var NodeIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// ValidNodeID reports whether id is a well-formed node identity.
func ValidNodeID(id string) bool {
	return NodeIDPattern.MatchString(id)
}

// Node is the durable identity record of a reporting host. It is read back
// only to order the node list and is never served directly.
type Node struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
	LastSeen    time.Time
}

// NodeStatus is the latest known state of a node as served to the dashboard.
// Timestamps are Unix milliseconds. Status is derived at read time and is
// never trusted from the cache.
type NodeStatus struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	CPU        float64 `json:"cpu"`
	Memory     float64 `json:"memory"`
	Disk       float64 `json:"disk"`
	NetRxTotal uint64  `json:"net_rx_total"`
	NetTxTotal uint64  `json:"net_tx_total"`
	NetRxSpeed uint64  `json:"net_rx_speed"`
	NetTxSpeed uint64  `json:"net_tx_speed"`
	Uptime     uint64  `json:"uptime"`
	LastSeen   int64   `json:"last_seen"`
}

// Valid reports whether a decoded snapshot is usable. Entries written by an
// older or foreign writer may decode without an id or timestamp.
func (s NodeStatus) Valid() bool {
	return s.ID != "" && s.Name != "" && s.LastSeen > 0
}
