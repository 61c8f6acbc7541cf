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

package reloader

import (
	"fmt"

	"nginx-reconciler/pkg/controller/renderer"
)

// Action is what has to happen to bring NGINX to a rendered configuration.
type Action int

const (
	// SkipNoop means NGINX already runs the configuration.
	SkipNoop Action = iota
	// DynamicUpdate applies certificates or split weights without a reload.
	DynamicUpdate
	// FullReload writes all files and reloads NGINX.
	FullReload
)

func (a Action) String() string {
	switch a {
	case SkipNoop:
		return "skip"
	case DynamicUpdate:
		return "dynamic-update"
	case FullReload:
		return "full-reload"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Flags enable the dynamic update paths.
type Flags struct {
	DynamicSSL     bool
	DynamicWeights bool
}

// Decision is the outcome of comparing two configurations.
type Decision struct {
	Action  Action
	Reasons []string

	// Certificates changed in place. Only set for DynamicUpdate, a full
	// reload writes every certificate.
	Certificates []renderer.Certificate

	// Weights to store in key-value zones, after the reload for FullReload.
	// Key-value state survives reloads and takes precedence over the
	// default of the split map.
	Weights []renderer.SplitWeights
}

// Decide compares next with the configuration NGINX runs. prev is nil when
// nothing has been applied yet.
func Decide(prev, next *renderer.Config, flags Flags) Decision {
	if prev == nil {
		return Decision{
			Action:  FullReload,
			Reasons: []string{"initial configuration"},
			Weights: next.Weights,
		}
	}

	weights := next.ChangedWeights(prev)
	full := Decision{Action: FullReload, Weights: weights}

	if prev.Checksum() != next.Checksum() {
		full.Reasons = []string{"configuration changed"}
		return full
	}

	certs, sameNames := next.ChangedCertificates(prev)
	if !sameNames {
		full.Reasons = []string{"certificate set changed"}
		return full
	}

	var d Decision
	for _, cert := range certs {
		if !flags.DynamicSSL {
			full.Reasons = append(full.Reasons, fmt.Sprintf("certificate %s changed and dynamic certificate reload is disabled", cert.Name))
			continue
		}
		if !cert.Dynamic {
			full.Reasons = append(full.Reasons, fmt.Sprintf("certificate %s changed and is used by a server that reads it at startup", cert.Name))
			continue
		}
		d.Certificates = append(d.Certificates, cert)
		d.Reasons = append(d.Reasons, fmt.Sprintf("certificate %s changed", cert.Name))
	}
	if len(weights) > 0 {
		if flags.DynamicWeights {
			d.Weights = weights
			d.Reasons = append(d.Reasons, fmt.Sprintf("%d split weights changed", len(weights)))
		} else {
			full.Reasons = append(full.Reasons, "split weights changed and dynamic weight changes are disabled")
		}
	}

	if len(full.Reasons) > 0 {
		return full
	}
	if len(d.Reasons) > 0 {
		d.Action = DynamicUpdate
		return d
	}
	return Decision{Action: SkipNoop}
}
