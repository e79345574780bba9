package payload

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidJSON is returned when the body is not a JSON document.
	ErrInvalidJSON = errors.New("invalid json")

	// ErrInvalidPayload is returned when the document does not satisfy the
	// ingestion contract. The wrapped text names the offending field for
	// server logs only.
	ErrInvalidPayload = errors.New("invalid payload")
)

func reject(field string) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, field)
}
