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

// Package main provides the CLI entrypoint for the NGINX reconciler.
//
// Two commands are available:
//
//   - run: watches the cluster and keeps NGINX in sync with the Ingress,
//     VirtualServer, TransportServer and Policy resources.
//   - render: validates and renders a manifest file offline and prints the
//     resulting configuration.
//
// Every flag of the run command can also be set through an environment
// variable named after the flag (--ingress-class becomes INGRESS_CLASS).
// Flags take precedence over environment variables, which take precedence
// over the configuration file.
//
// Log verbosity follows the VERBOSE environment variable: 0 = WARNING,
// 1 = INFO (default), 2 = DEBUG.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"

	_ "github.com/KimMachineGun/automemlimit"
	"github.com/spf13/cobra"

	"nginx-reconciler/pkg/core/logging"
)

// Version is set at build time.
var Version = "v0.1.0"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "controller",
		Short:        "NGINX reconciler for Ingress and VirtualServer resources",
		SilenceUsage: true,
		Version:      Version,
	}
	root.AddCommand(newRunCommand(), newRenderCommand())
	return root
}

// setupLogging installs the process wide logger writing to w. verbose is
// used when the VERBOSE environment variable is not set.
func setupLogging(w io.Writer, verbose int) *slog.Logger {
	if env, ok := os.LookupEnv("VERBOSE"); ok {
		if v, err := strconv.Atoi(env); err == nil {
			verbose = v
		}
	}

	logger := logging.NewLoggerWithWriter(w, logging.VerboseLevel(verbose))
	slog.SetDefault(logger)
	logging.RouteKlog(logger)
	return logger
}

// resourceLimits describes the GOMAXPROCS and GOMEMLIMIT the runtime
// detected.
func resourceLimits() (int, string) {
	gomaxprocs := runtime.GOMAXPROCS(0)
	if limit := debug.SetMemoryLimit(-1); limit != math.MaxInt64 {
		return gomaxprocs, fmt.Sprintf("%d bytes (%.2f MiB)", limit, float64(limit)/(1024*1024))
	}
	return gomaxprocs, "unlimited"
}
