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

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoll_ReadyAfterAttempts(t *testing.T) {
	attempts := 0
	result, err := Poll(context.Background(), time.Millisecond, time.Second, func(ctx context.Context) (Result, error) {
		attempts++
		if attempts < 3 {
			return NotYetReady, nil
		}
		return Ready, nil
	})

	require.NoError(t, err)
	assert.Equal(t, Ready, result)
	assert.Equal(t, 3, attempts)
}

func TestPoll_FailedStopsImmediately(t *testing.T) {
	attempts := 0
	boom := errors.New("nginx exited")
	result, err := Poll(context.Background(), time.Millisecond, time.Second, func(ctx context.Context) (Result, error) {
		attempts++
		return Failed, boom
	})

	assert.Equal(t, Failed, result)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestPoll_TimeoutReportsLastError(t *testing.T) {
	refused := errors.New("connection refused")
	result, err := Poll(context.Background(), time.Millisecond, 20*time.Millisecond, func(ctx context.Context) (Result, error) {
		return NotYetReady, refused
	})

	assert.Equal(t, NotYetReady, result)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, refused)
}

func TestPoll_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Poll(ctx, time.Millisecond, time.Second, func(ctx context.Context) (Result, error) {
		return NotYetReady, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "not-yet-ready", NotYetReady.String())
}
