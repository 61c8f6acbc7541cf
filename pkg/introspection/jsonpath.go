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

package introspection

import (
	"bytes"
	"encoding/json"
	"fmt"

	"k8s.io/client-go/util/jsonpath"
)

// ExtractField selects a field of data with a kubectl-style JSONPath
// expression such as "{.checksum}" or "{.kinds.VirtualServer}". Missing
// keys yield nil. Results that are not JSON are returned as strings.
func ExtractField(data interface{}, expr string) (interface{}, error) {
	if expr == "" {
		return data, nil
	}

	j := jsonpath.New("field").AllowMissingKeys(true)
	if err := j.Parse(expr); err != nil {
		return nil, fmt.Errorf("invalid jsonpath expression %q: %w", expr, err)
	}

	// jsonpath walks generic JSON values, not arbitrary structs
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := j.Execute(buf, generic); err != nil {
		return nil, fmt.Errorf("failed to execute jsonpath: %w", err)
	}
	if buf.Len() == 0 {
		return nil, nil
	}

	var result interface{}
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		return buf.String(), nil
	}
	return result, nil
}
