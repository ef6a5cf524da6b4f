// Package retry drives attempts of a fallible operation with jittered
// exponential backoff. Classification of failures lives in awserr;
// this package only looks at the typed error's retriable flag and
// never inspects status codes.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/ethanadams/awsreq/internal/awserr"
)

// initialCeiling is the sleep ceiling before the first retry. It
// doubles after every failed attempt.
const initialCeiling = 10 * time.Millisecond

// Invalidator is called with the failure reason when an attempt fails
// with an authorization error, before the retry/abort decision, so
// cached credentials can be refreshed for any later attempt.
type Invalidator func(reason string)

// Policy configures the backoff loop. The zero value performs a single
// attempt with no retries.
type Policy struct {
	// MaxRetries is the retry budget; total attempts are MaxRetries+1.
	MaxRetries int

	// Sleep suspends between attempts. Nil means a context-aware
	// timer sleep. Injectable for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do runs op until it succeeds, fails terminally, or exhausts the
// retry budget. Attempts are strictly sequential; backoff state is
// local to this call and never shared between operations.
//
// Between retriable failures Do sleeps a uniformly random duration in
// [1ms, ceiling], then doubles the ceiling. The last error is returned
// unchanged so callers can match on its type.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, onAuthFailure Invalidator) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	ceiling := initialCeiling
	for tries := 0; ; tries++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var authErr *awserr.AuthorizationError
		if errors.As(err, &authErr) && onAuthFailure != nil {
			onAuthFailure(authErr.Message)
		}

		if !awserr.Retriable(err) || tries >= p.MaxRetries {
			return err
		}

		ceilingMs := int64(ceiling / time.Millisecond)
		delay := time.Duration(1+rand.Int63n(ceilingMs)) * time.Millisecond
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		ceiling *= 2
	}
}

// sleepContext waits without occupying a thread, honouring
// cancellation.
func sleepContext(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
