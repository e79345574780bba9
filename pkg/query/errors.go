package query

import "errors"

var (
	ErrInvalidID    = errors.New("invalid_id")
	ErrInvalidRange = errors.New("invalid_range")
	ErrNotFound     = errors.New("not_found")
	ErrDatabase     = errors.New("db_error")
	ErrCache        = errors.New("kv_error")
)
