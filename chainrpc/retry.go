// Copyright (c) 2024 The Hashvault developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainrpc

import (
	"math/rand"
	"time"
)

// Policy parameterizes retry behavior for transient call failures.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay after the first failed attempt; each
	// subsequent delay doubles.
	BaseDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration
}

// DefaultPolicy matches the scan scheduler's expectations: a handful of
// quick retries that give up well inside one scheduling interval.
var DefaultPolicy = Policy{
	MaxAttempts: 4,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    8 * time.Second,
}

// delay returns the backoff for the given zero-based attempt: base * 2^n
// capped at MaxDelay, plus up to 10% random jitter so retries across chains
// do not synchronize.
func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + jitter
}

// Do invokes fn until it succeeds, fails with a non-retryable kind, or the
// attempt budget is exhausted.  Only network and rate-limit failures are
// retried; auth, validation, and permanent failures propagate immediately.
func (p Policy) Do(fn func() error) error {
	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		kind := Classify(err)
		if !kind.Retryable() {
			return err
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		wait := p.delay(attempt)
		log.Debugf("Transient %v failure, retrying in %v: %v", kind,
			wait, err)
		time.Sleep(wait)
	}
	return err
}
