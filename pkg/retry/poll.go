// Copyright 2025 Philipp Hossner
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

// Package retry provides bounded polling for operations that converge
// asynchronously, such as NGINX workers picking up a reloaded configuration.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Result is the outcome of a single poll attempt.
type Result int

const (
	// NotYetReady means the condition is not met yet; polling continues.
	NotYetReady Result = iota
	// Ready means the condition is met.
	Ready
	// Failed means the condition can no longer be met; polling stops.
	Failed
)

func (r Result) String() string {
	switch r {
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "not-yet-ready"
	}
}

// ErrTimeout is returned by Poll when the condition was not met in time.
var ErrTimeout = errors.New("timed out waiting for condition")

// ConditionFunc is polled until it reports Ready or Failed. An error with
// NotYetReady is remembered and reported on timeout but does not stop
// polling.
type ConditionFunc func(ctx context.Context) (Result, error)

// Poll calls fn immediately and then every interval until it returns Ready
// or Failed, timeout elapses, or ctx is cancelled.
//
// On timeout the returned error wraps ErrTimeout and the last error fn
// returned, if any.
func Poll(ctx context.Context, interval, timeout time.Duration, fn ConditionFunc) (Result, error) {
	result := NotYetReady
	var lastErr error

	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		r, err := fn(ctx)
		result = r
		switch r {
		case Ready:
			return true, nil
		case Failed:
			if err == nil {
				err = errors.New("condition failed")
			}
			return false, err
		default:
			lastErr = err
			return false, nil
		}
	})

	switch {
	case err == nil:
		return Ready, nil
	case result == Failed:
		return Failed, err
	case ctx.Err() != nil:
		return result, ctx.Err()
	case lastErr != nil:
		return result, fmt.Errorf("%w after %v: %w", ErrTimeout, timeout, lastErr)
	default:
		return result, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
