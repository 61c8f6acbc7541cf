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

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"nginx-reconciler/pkg/controller"
	"nginx-reconciler/pkg/controller/resourcestore"
)

// errRenderFailed is returned when rendering or a resource failed. The
// details have already been printed.
var errRenderFailed = errors.New("render failed")

type renderFlags struct {
	manifests  string
	configPath string
	showFiles  bool
	strict     bool
}

func newRenderCommand() *cobra.Command {
	flags := &renderFlags{}

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Validate and render manifests without a cluster",
		Long: `Validate a set of Kubernetes manifests and render the NGINX configuration
the controller would produce for them.

The manifest file may hold several YAML documents and List objects. Objects of
kinds the controller does not watch are listed and skipped. Objects without a
namespace are placed in "default".

The status of every resource is printed to stderr, the rendered nginx.conf to
stdout. The command fails when the configuration cannot be rendered, or with
--strict when any resource is invalid.

Example usage:
  controller render -f cafe.yaml
  controller render -f cafe.yaml --config config.yaml --files`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return renderManifests(cmd.OutOrStdout(), cmd.ErrOrStderr(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.manifests, "filename", "f", "", "Manifest file to render (- for stdin)")
	cmd.Flags().StringVar(&flags.configPath, "config", "", "Path to the controller configuration file")
	cmd.Flags().BoolVar(&flags.showFiles, "files", false, "Also print the auxiliary files")
	cmd.Flags().BoolVar(&flags.strict, "strict", false, "Fail when any resource is invalid")
	_ = cmd.MarkFlagRequired("filename")

	return cmd
}

func renderManifests(stdout, stderr io.Writer, flags *renderFlags) error {
	loaded, err := controller.LoadConfig(flags.configPath, nil)
	if err != nil {
		return err
	}
	logger := setupLogging(stderr, 0)

	var data []byte
	if flags.manifests == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(flags.manifests)
	}
	if err != nil {
		return fmt.Errorf("failed to read manifests: %w", err)
	}

	objs, err := controller.DecodeManifests(data)
	if err != nil {
		return fmt.Errorf("failed to decode manifests: %w", err)
	}

	res, err := controller.RenderOffline(loaded.Config, objs, logger)
	if err != nil {
		return err
	}

	invalid := 0
	for _, o := range res.Outcomes {
		if o.State == resourcestore.StateInvalid {
			invalid++
		}
		fmt.Fprintf(stderr, "%-8s %s: %s\n", o.State, o.ID, o.Message)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(stderr, "%-8s %s: kind is not watched\n", "Skipped", s)
	}

	if res.Config == nil {
		fmt.Fprintf(stderr, "\n%s\n", res.RenderErr)
		return errRenderFailed
	}

	fmt.Fprintf(stdout, "# checksum: %s\n", res.Config.Checksum())
	fmt.Fprint(stdout, res.Config.Main)
	if flags.showFiles {
		for _, f := range res.Config.Files {
			fmt.Fprintf(stdout, "\n# file: %s\n%s\n", f.Name, f.Content)
		}
		for _, c := range res.Config.Certificates {
			fmt.Fprintf(stdout, "\n# certificate: %s (from %s)\n", c.Name, c.Secret)
		}
	}

	if flags.strict && invalid > 0 {
		return fmt.Errorf("%w: %d invalid resource(s)", errRenderFailed, invalid)
	}
	return nil
}
