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

package pkg_test

import (
	"testing"

	"github.com/arch-go/arch-go/api"
	"github.com/arch-go/arch-go/api/configuration"
)

// TestArchitecture checks the package dependency rules of arch-go.yml:
// only pkg/controller wires the other top-level packages together.
func TestArchitecture(t *testing.T) {
	moduleInfo := configuration.Load("nginx-reconciler")

	config, err := configuration.LoadConfig("../arch-go.yml")
	if err != nil {
		t.Fatalf("Failed to load arch-go.yml configuration: %v", err)
	}

	result := api.CheckArchitecture(moduleInfo, *config)
	if result.Pass {
		t.Logf("Architecture validation passed in %v", result.Duration)
		return
	}

	if result.DependenciesRuleResult != nil && !result.DependenciesRuleResult.Passes {
		for _, ruleResult := range result.DependenciesRuleResult.Results {
			if ruleResult.Passes {
				continue
			}
			t.Errorf("Rule: %s", ruleResult.Description)
			for _, verification := range ruleResult.Verifications {
				if verification.Passes {
					continue
				}
				t.Errorf("  Package: %s", verification.Package)
				for _, detail := range verification.Details {
					t.Errorf("    - %s", detail)
				}
			}
		}
	}
	t.Fatal("Architecture validation failed. See violations above.")
}
