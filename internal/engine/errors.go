package engine

import (
	"errors"
	"fmt"
)

// ErrAlreadyClaimed reports a claim against an assignment held by someone else.
var ErrAlreadyClaimed = errors.New("assignment already claimed by another operative")

// ErrNotOwner reports an ownership-gated operation by a non-claimant.
var ErrNotOwner = errors.New("caller is not the claimant of this assignment")

// InvalidStateError reports an operation against an assignment whose current
// status does not permit it.
type InvalidStateError struct {
	Op     string
	Status string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s assignment in status %s", e.Op, e.Status)
}
