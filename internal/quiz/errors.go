package quiz

import "errors"

var (
	// ErrPoolExhausted means no unshown question remains.
	ErrPoolExhausted = errors.New("question pool exhausted")
	// ErrInvalidRecord marks a question record rejected at load time.
	ErrInvalidRecord = errors.New("invalid question record")
)
