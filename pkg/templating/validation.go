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

package templating

import (
	"github.com/nikolalohinski/gonja/v2"
)

// ValidateTemplate checks that the template name compiles without rendering
// it. Includes are resolved at render time, so a template may include others
// that are not known yet.
func ValidateTemplate(name, templateStr string, engineType EngineType) error {
	if engineType != EngineTypeGonja {
		return NewUnsupportedEngineError(engineType)
	}

	if _, err := gonja.FromString(templateStr); err != nil {
		return NewCompilationError(name, templateStr, err)
	}

	return nil
}
