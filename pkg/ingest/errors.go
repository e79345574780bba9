package ingest

import "errors"

// Rejections and failures of an ingestion, one per response code.
var (
	ErrPayloadTooLarge  = errors.New("payload_too_large")
	ErrMissingTimestamp = errors.New("missing_timestamp")
	ErrStaleTimestamp   = errors.New("stale_timestamp")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidJSON      = errors.New("invalid_json")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrDatabase         = errors.New("db_error")
	ErrCache            = errors.New("kv_error")
)

var outcomes = []error{
	ErrPayloadTooLarge,
	ErrMissingTimestamp,
	ErrStaleTimestamp,
	ErrInvalidSignature,
	ErrInvalidJSON,
	ErrInvalidPayload,
	ErrDatabase,
	ErrCache,
}

// OutcomeOK labels an accepted ingestion.
const OutcomeOK = "ok"

// Outcome returns the wire code for err: "ok" for nil, the matching sentinel
// text otherwise, and "internal_error" for anything unrecognised.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	for _, sentinel := range outcomes {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal_error"
}
