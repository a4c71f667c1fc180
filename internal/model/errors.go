package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("document not found")
	ErrPolicyNotFound         = errors.New("retention policy not found")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrVerificationPending    = errors.New("verification pending")
	ErrVerificationFailed     = errors.New("external verification failed")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrExpired                = errors.New("signature request expired")
	ErrUnknownField           = errors.New("field not assigned to signer")
	ErrStaleTracking          = errors.New("tracking id superseded")
	ErrInvalidInput           = errors.New("invalid input")
)

// TransitionError describes a rejected state change with enough context for
// a caller to render an actionable message.
type TransitionError struct {
	DocumentID string
	State      string
	Attempted  string
	Reason     string
	Err        error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("document %s: cannot %s while %s", e.DocumentID, e.Attempted, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += " (" + e.Err.Error() + ")"
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Reject builds a TransitionError wrapping one of the sentinel errors.
func Reject(documentID, state, attempted string, err error, reason string) error {
	return &TransitionError{
		DocumentID: documentID,
		State:      state,
		Attempted:  attempted,
		Reason:     reason,
		Err:        err,
	}
}
