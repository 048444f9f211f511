package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("entity not found")
	ErrCommit       = errors.New("commit failed")
	ErrInvalidLimit = errors.New("invalid limit")
)
