package session

import (
	"context"
	"errors"

	"github.com/m3rciful/paybot/core/fault"
	"github.com/m3rciful/paybot/core/identity"
)

// ErrConflict is returned by CompareAndSet when another writer won the race.
var ErrConflict = errors.New("session: version conflict")

// Store is the durable session store contract. Get never reports absence:
// a missing record yields the default session at version 0.
type Store interface {
	Get(ctx context.Context, id identity.Identity) (Session, error)
	// CompareAndSet persists next under id if the stored version still
	// equals expected. expected 0 creates the record. On a lost race it
	// returns ErrConflict and writes nothing.
	CompareAndSet(ctx context.Context, id identity.Identity, expected int64, next Session) error
	// Delete removes the record entirely; used only by explicit account removal.
	Delete(ctx context.Context, id identity.Identity) error
}

// Mutate runs fn against the current session and writes the result with a
// compare-and-set, retrying up to retries times on conflict. When retries
// are exhausted it returns a conflict error the caller surfaces to the
// user as "please retry".
func Mutate(ctx context.Context, st Store, id identity.Identity, retries int, fn func(*Session) error) (Session, error) {
	if retries < 1 {
		retries = 1
	}
	var last error
	for attempt := 0; attempt < retries; attempt++ {
		cur, err := st.Get(ctx, id)
		if err != nil {
			return Session{}, err
		}
		next := cur
		if err := fn(&next); err != nil {
			return Session{}, err
		}
		err = st.CompareAndSet(ctx, id, cur.Version, next)
		if err == nil {
			next.Version = cur.Version + 1
			return next, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Session{}, err
		}
		last = err
	}
	return Session{}, fault.Wrap(fault.KindConflict, last, "session update lost %d races", retries)
}
