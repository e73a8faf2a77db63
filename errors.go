package viewcache

import (
	"errors"
	"fmt"
)

var (
	ErrNoFetcher   = errors.New("viewcache: fetch func is required")
	ErrUnknownView = errors.New("viewcache: unknown view kind")
	ErrNotInfinite = errors.New("viewcache: key is not an infinite list")
	ErrClosed      = errors.New("viewcache: client closed")
)

// FetchError is a read failure. The entry keeps its previous ready data if it had any.
type FetchError struct {
	Key Key
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError is a rejected remote call. Every affected view was restored
// to its pre-mutation snapshot before it was returned.
type MutationError struct {
	EntityID   string
	MutationID string
	Err        error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("mutation %s on %q rolled back: %v", e.MutationID, e.EntityID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// ReconciliationError is a failed background refetch after a committed mutation
// or an explicit invalidation. It never causes a rollback.
type ReconciliationError struct {
	Key Key
	Err error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s: %v", e.Key, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// ParkError reports a cold-tier failure while invalidating a parked entry.
type ParkError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *ParkError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("unpark %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("unpark %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("unpark %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("unpark %q: unknown error", e.Key)
	}
}

func (e *ParkError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}
