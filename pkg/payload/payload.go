// Package payload validates the JSON body an agent sends to the ingestion
// endpoint and turns it into a typed record.
package payload

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"unicode/utf8"

	"probehub/pkg/models"
)

const (
	// MaxHostnameLength is the number of characters kept from the hostname.
	MaxHostnameLength = 255

	// maxSafeInteger is the largest integer a float64 holds exactly (2^53-1).
	maxSafeInteger = 1<<53 - 1
)

// Snapshot is the point-in-time resource usage of the host.
type Snapshot struct {
	CPUPercent      float64
	MemUsedPercent  float64
	DiskUsedPercent float64
	NetRxBytes      uint64
	NetTxBytes      uint64
	UptimeSeconds   uint64
}

// Bandwidth carries the agent's counter deltas and running totals.
type Bandwidth struct {
	DeltaRxBytes uint64
	DeltaTxBytes uint64
	TotalRxBytes uint64
	TotalTxBytes uint64
	RxSpeed      uint64
	TxSpeed      uint64
}

// Payload is a validated ingestion body. Values are copied out of the
// decoded document, so a Payload never aliases request memory.
type Payload struct {
	NodeID    string
	Hostname  string
	Snapshot  Snapshot
	Bandwidth Bandwidth
}

// DisplayName is the hostname when one was sent, otherwise the node id.
func (p Payload) DisplayName() string {
	if p.Hostname != "" {
		return p.Hostname
	}
	return p.NodeID
}

// Parse validates raw and returns the typed payload. Any failure rejects the
// whole document with ErrInvalidJSON or ErrInvalidPayload.
func Parse(raw []byte) (Payload, error) {
	if !json.Valid(raw) {
		return Payload{}, ErrInvalidJSON
	}

	root, ok := decodeObject(raw)
	if !ok {
		return Payload{}, reject("root")
	}

	var result Payload

	nodeID, ok := root.str("nodeId")
	if !ok || !models.ValidNodeID(nodeID) {
		return Payload{}, reject("nodeId")
	}
	result.NodeID = nodeID

	if _, present := root["hostname"]; present {
		hostname, ok := root.str("hostname")
		if !ok {
			return Payload{}, reject("hostname")
		}
		result.Hostname = truncate(hostname, MaxHostnameLength)
	}

	snapshot, ok := root.object("snapshot")
	if !ok {
		return Payload{}, reject("snapshot")
	}
	if err := snapshot.readSnapshot(&result.Snapshot); err != nil {
		return Payload{}, err
	}

	bandwidth, ok := root.object("bandwidth")
	if !ok {
		return Payload{}, reject("bandwidth")
	}
	if err := bandwidth.readBandwidth(&result.Bandwidth); err != nil {
		return Payload{}, err
	}

	return result, nil
}

type object map[string]json.RawMessage

func decodeObject(raw []byte) (object, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var obj object
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func (o object) object(key string) (object, bool) {
	raw, ok := o[key]
	if !ok {
		return nil, false
	}
	return decodeObject(raw)
}

func (o object) str(key string) (string, bool) {
	raw, ok := o[key]
	if !ok {
		return "", false
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}

	var value string
	if err := json.Unmarshal(trimmed, &value); err != nil {
		return "", false
	}
	return value, true
}

func (o object) number(key string) (float64, bool) {
	raw, ok := o[key]
	if !ok {
		return 0, false
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || (trimmed[0] != '-' && (trimmed[0] < '0' || trimmed[0] > '9')) {
		return 0, false
	}

	value, err := strconv.ParseFloat(string(trimmed), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

func (o object) percent(key string) (float64, bool) {
	value, ok := o.number(key)
	if !ok || value < 0 || value > 100 {
		return 0, false
	}
	return value, true
}

func (o object) counter(key string) (uint64, bool) {
	value, ok := o.number(key)
	if !ok || value < 0 || value > maxSafeInteger || value != math.Trunc(value) {
		return 0, false
	}
	return uint64(value), true
}

func (o object) readSnapshot(dst *Snapshot) error {
	var ok bool

	if dst.CPUPercent, ok = o.percent("cpuPercent"); !ok {
		return reject("snapshot.cpuPercent")
	}
	if dst.MemUsedPercent, ok = o.percent("memUsedPercent"); !ok {
		return reject("snapshot.memUsedPercent")
	}
	if dst.DiskUsedPercent, ok = o.percent("diskUsedPercent"); !ok {
		return reject("snapshot.diskUsedPercent")
	}
	if dst.NetRxBytes, ok = o.counter("netRxBytes"); !ok {
		return reject("snapshot.netRxBytes")
	}
	if dst.NetTxBytes, ok = o.counter("netTxBytes"); !ok {
		return reject("snapshot.netTxBytes")
	}
	if dst.UptimeSeconds, ok = o.counter("uptimeSeconds"); !ok {
		return reject("snapshot.uptimeSeconds")
	}
	return nil
}

func (o object) readBandwidth(dst *Bandwidth) error {
	fields := []struct {
		key string
		dst *uint64
	}{
		{"deltaRxBytes", &dst.DeltaRxBytes},
		{"deltaTxBytes", &dst.DeltaTxBytes},
		{"totalRxBytes", &dst.TotalRxBytes},
		{"totalTxBytes", &dst.TotalTxBytes},
		{"rxSpeed", &dst.RxSpeed},
		{"txSpeed", &dst.TxSpeed},
	}

	for _, field := range fields {
		value, ok := o.counter(field.key)
		if !ok {
			return reject("bandwidth." + field.key)
		}
		*field.dst = value
	}
	return nil
}

// truncate keeps at most limit characters of s.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
