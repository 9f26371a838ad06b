/**
 * @description
 * This file implements the lookup orchestrator: a retry loop over the
 * document client with exponential backoff. Sleeping goes through an injected
 * function so the tests can assert the backoff schedule without waiting.
 */
package app

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/danfezap/danfe-service/internal/domain"
	"github.com/danfezap/danfe-service/pkg/danfeclient"
)

// DocumentLookup abstracts one fetch attempt against the upstream document
// provider.
type DocumentLookup interface {
	FetchOnce(ctx context.Context, key string) (*domain.LookupArtifacts, error)
}

// LookupOrchestrator retries document fetches with exponential backoff.
type LookupOrchestrator struct {
	client          DocumentLookup
	maxAttempts     int
	backoffBaseSecs int
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewLookupOrchestrator creates an orchestrator with the configured retry
// budget. Backoff before retry n is backoffBaseSecs^n seconds. The budget is
// floored at one attempt.
func NewLookupOrchestrator(client DocumentLookup, maxAttempts, backoffBaseSecs int) *LookupOrchestrator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &LookupOrchestrator{
		client:          client,
		maxAttempts:     maxAttempts,
		backoffBaseSecs: backoffBaseSecs,
		sleep:           sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Fetch attempts the lookup up to the configured budget. It returns on the
// first success; otherwise it reports the final error with the attempt count.
// NotYetAvailable is set when the last failure was an upstream not-found, so
// the caller can tell "try again in a few minutes" apart from a generic
// failure.
func (o *LookupOrchestrator) Fetch(ctx context.Context, key string) domain.LookupResult {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		attempts = attempt
		artifacts, err := o.client.FetchOnce(ctx, key)
		if err == nil {
			return domain.LookupResult{
				Succeeded: true,
				Artifacts: artifacts,
				Attempts:  attempt,
			}
		}
		lastErr = err
		log.Printf("level=warn component=lookup msg=\"fetch attempt failed\" attempt=%d max_attempts=%d err=%v", attempt, o.maxAttempts, err)

		if attempt < o.maxAttempts {
			backoff := time.Duration(math.Pow(float64(o.backoffBaseSecs), float64(attempt))) * time.Second
			if sleepErr := o.sleep(ctx, backoff); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	result := domain.LookupResult{
		Attempts:  attempts,
		LastError: lastErr.Error(),
	}
	var lookupErr *danfeclient.LookupError
	if errors.As(lastErr, &lookupErr) && lookupErr.Kind == danfeclient.KindNotFound {
		result.NotYetAvailable = true
	}
	return result
}
