package models

import "time"

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	// DefaultOfflineThreshold is how long a node may stay silent and still be shown online.
	DefaultOfflineThreshold = 120 * time.Second
)

// Liveness derives the displayed status from the last report time.
// A node is online strictly while now - lastSeen < threshold.
func Liveness(lastSeen, now time.Time, threshold time.Duration) string {
	if now.Sub(lastSeen) < threshold {
		return StatusOnline
	}
	return StatusOffline
}

// WithLiveness returns a copy of the snapshot with Status derived for now.
func (s NodeStatus) WithLiveness(now time.Time, threshold time.Duration) NodeStatus {
	s.Status = Liveness(time.UnixMilli(s.LastSeen), now, threshold)
	return s
}

// OfflinePlaceholder stands in for a known node whose snapshot is gone.
func OfflinePlaceholder(id string) NodeStatus {
	return NodeStatus{
		ID:     id,
		Name:   id,
		Status: StatusOffline,
	}
}
