package domain

import "errors"

var (
	ErrNotFound            = errors.New("not_found")
	ErrInvalidExternalID   = errors.New("invalid_external_id")
	ErrInvalidItem         = errors.New("invalid_item")
	ErrConflict            = errors.New("conflict")
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
	ErrTaskDecode          = errors.New("task_decode_failed")
)
