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

package dataplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// DefaultPlusAPIVersion is the version of the NGINX Plus API used for
// key-value updates.
const DefaultPlusAPIVersion = 9

// keyValClient updates key-value zones through the NGINX Plus API.
type keyValClient struct {
	baseURL string
	version int
	client  *http.Client
}

// set stores kv. An existing key is modified, a missing key is created.
func (c *keyValClient) set(ctx context.Context, kv KeyVal) error {
	body, err := json.Marshal(map[string]string{kv.Key: kv.Value})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/%d/http/keyvals/%s", c.baseURL, c.version, url.PathEscape(kv.Zone))

	status, msg, err := c.do(ctx, http.MethodPatch, endpoint, body)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		status, msg, err = c.do(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return err
		}
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("keyval %s/%s: unexpected status %d: %s", kv.Zone, kv.Key, status, msg)
	}
	return nil
}

func (c *keyValClient) do(ctx context.Context, method, endpoint string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return resp.StatusCode, string(bytes.TrimSpace(msg)), nil
}
