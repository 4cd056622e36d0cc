package ota

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrPendingVerify is returned when the running image has not been
	// accepted yet; an unconfirmed image never seeds another update.
	ErrPendingVerify = errors.New("running image is pending verification")

	// ErrAlreadyUpdating is returned when another update is in flight.
	ErrAlreadyUpdating = errors.New("an update is already in progress")

	// ErrOutOfSpace is returned when the image does not fit the destination slot.
	ErrOutOfSpace = errors.New("image does not fit the destination slot")

	// ErrDescriptorCorrupt means neither descriptor copy could be decoded.
	// There is no recovery path; callers must stop updating.
	ErrDescriptorCorrupt = errors.New("ota descriptor corrupt: no valid copy")

	// ErrSequenceReused is returned when a write would move the sequence backwards.
	ErrSequenceReused = errors.New("ota sequence would be reused")

	// ErrSequenceExhausted is returned when the current sequence is the
	// largest one a descriptor can carry.
	ErrSequenceExhausted = errors.New("ota sequence exhausted")
)

// NextSequence returns the sequence that follows seq, or
// ErrSequenceExhausted when seq cannot be incremented.
func NextSequence(seq uint32) (uint32, error) {
	if seq == math.MaxUint32 {
		return 0, ErrSequenceExhausted
	}
	return seq + 1, nil
}

// ReadError wraps a failure of the image source. The source error is kept
// verbatim.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read update image: %v", e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// InternalError covers descriptor corruption, partition lookup failures and
// storage faults.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("ota internal error during %s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// IsFatal reports whether err means the descriptor store is unusable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDescriptorCorrupt)
}
