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

package events

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultRequestTimeout bounds a Request when RequestOptions.Timeout is zero.
const DefaultRequestTimeout = 10 * time.Second

// Request is an event that expects Responses from named components.
type Request interface {
	Event
	RequestID() string
}

// Response answers the Request with the same RequestID.
type Response interface {
	Event
	RequestID() string
	// Responder names the answering component. Only the first response of
	// each responder counts.
	Responder() string
}

// RequestOptions configure EventBus.Request.
type RequestOptions struct {
	Timeout time.Duration

	// ExpectedResponders must not be empty. Responses from other
	// components are ignored.
	ExpectedResponders []string

	// MinResponses ends the request early once that many distinct
	// responders replied. Zero waits for all ExpectedResponders.
	MinResponses int
}

// RequestResult holds what was gathered for a Request.
type RequestResult struct {
	Responses []Response

	// Errors has one entry per expected responder that did not reply.
	Errors []string
}

func (o RequestOptions) normalize() (RequestOptions, error) {
	if len(o.ExpectedResponders) == 0 {
		return o, errors.New("ExpectedResponders cannot be empty")
	}
	if o.MinResponses == 0 {
		o.MinResponses = len(o.ExpectedResponders)
	}
	if o.MinResponses > len(o.ExpectedResponders) {
		return o, fmt.Errorf("MinResponses (%d) cannot exceed ExpectedResponders (%d)",
			o.MinResponses, len(o.ExpectedResponders))
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultRequestTimeout
	}
	return o, nil
}

// gather subscribes, publishes request and collects responses on the
// calling goroutine until enough arrived, the timeout fired or ctx ended.
func gather(ctx context.Context, bus *EventBus, request Request, opts RequestOptions) (*RequestResult, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	sub := bus.Subscribe(100)
	defer bus.Unsubscribe(sub)

	bus.Publish(request)

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	expected := make(map[string]bool, len(opts.ExpectedResponders))
	for _, name := range opts.ExpectedResponders {
		expected[name] = true
	}
	seen := make(map[string]bool, len(opts.ExpectedResponders))
	var responses []Response

	finish := func(err error) (*RequestResult, error) {
		result := &RequestResult{Responses: responses}
		for _, name := range opts.ExpectedResponders {
			if !seen[name] {
				result.Errors = append(result.Errors, "no response from "+name)
			}
		}
		return result, err
	}

	for len(responses) < opts.MinResponses {
		select {
		case ev, ok := <-sub:
			if !ok {
				return finish(errors.New("event bus subscription closed"))
			}
			resp, isResp := ev.(Response)
			if !isResp || resp.RequestID() != request.RequestID() {
				continue
			}
			if !expected[resp.Responder()] || seen[resp.Responder()] {
				continue
			}
			seen[resp.Responder()] = true
			responses = append(responses, resp)
		case <-timer.C:
			return finish(fmt.Errorf("request timeout after %v", opts.Timeout))
		case <-ctx.Done():
			return finish(ctx.Err())
		}
	}
	return finish(nil)
}
