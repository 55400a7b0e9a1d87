package procurement

import (
	"errors"
	"strings"
)

var (
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("procurement: invalid input")
	// ErrStateConflict occurs when action violates status workflow.
	ErrStateConflict = errors.New("procurement: invalid state transition")
	// ErrNotFound indicates record missing.
	ErrNotFound = errors.New("procurement: not found")
	// ErrDuplicateSelection guards the single selected quotation per request.
	ErrDuplicateSelection = errors.New("procurement: quotation already selected for request")
	// ErrAlreadyConverted guards the single expense per order.
	ErrAlreadyConverted = errors.New("procurement: order already converted to expense")
	// ErrForbidden indicates the actor lacks a required role.
	ErrForbidden = errors.New("procurement: forbidden")
	// ErrPersistence wraps storage and transaction failures.
	ErrPersistence = errors.New("procurement: persistence failure")
)

var kinds = []error{
	ErrValidation,
	ErrStateConflict,
	ErrNotFound,
	ErrDuplicateSelection,
	ErrAlreadyConverted,
	ErrForbidden,
}

// Message returns text that is safe to show to a user. Persistence details are
// never exposed.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, kind := range kinds {
		if !errors.Is(err, kind) {
			continue
		}
		msg := err.Error()
		if idx := strings.LastIndex(msg, kind.Error()+": "); idx >= 0 {
			return msg[idx+len(kind.Error())+2:]
		}
		return strings.TrimPrefix(kind.Error(), "procurement: ")
	}
	return "internal error"
}
