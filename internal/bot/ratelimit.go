// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bot

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitError is returned when a chat has exhausted its request budget.
type RateLimitError struct {
	ChatID string

	// Wait is how long until the next request would be admitted.
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for chat %s, retry in %ds", e.ChatID, e.RetryAfterSeconds())
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *RateLimitError) ErrorType() string { return "rate_limit" }

// IsRetryable implements pkg/errors.ErrorClassifier.
func (e *RateLimitError) IsRetryable() bool { return true }

// RetryAfterSeconds rounds Wait up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.Wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// RateLimiter admits up to requests messages per window for each chat.
// A zero requests value disables limiting. Chats whose bucket has refilled
// are forgotten once per window, so idle chat IDs do not accumulate.
type RateLimiter struct {
	limit  rate.Limit
	burst  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	lastSweep time.Time
}

// NewRateLimiter creates a per-chat limiter. now may be nil.
func NewRateLimiter(requests int, window time.Duration, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	rl := &RateLimiter{burst: requests, window: window, now: now, limiters: make(map[string]*rate.Limiter)}
	if requests > 0 && window > 0 {
		rl.limit = rate.Every(window / time.Duration(requests))
	}
	return rl
}

// Allow consumes one token for chatID or returns a *RateLimitError.
func (rl *RateLimiter) Allow(chatID string) error {
	if rl.burst <= 0 || rl.limit == 0 {
		return nil
	}

	now := rl.now()

	rl.mu.Lock()
	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweepLocked(now)
	}
	lim, ok := rl.limiters[chatID]
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[chatID] = lim
	}
	rl.mu.Unlock()

	r := lim.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return &RateLimitError{ChatID: chatID, Wait: delay}
	}
	return nil
}

// sweepLocked drops limiters with a full bucket. A full bucket behaves the
// same as a new limiter, so dropping one loses no state.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for id, lim := range rl.limiters {
		if lim.TokensAt(now) >= float64(rl.burst) {
			delete(rl.limiters, id)
		}
	}
	rl.lastSweep = now
}
