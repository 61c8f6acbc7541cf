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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"
)

// stagedFile is a file about to be written.
type stagedFile struct {
	path    string
	content []byte
	perm    os.FileMode
}

// savedFile is the previous state of a file.
type savedFile struct {
	content []byte
	perm    os.FileMode
}

// backup holds the previous state of files about to be replaced. A nil
// entry means the file did not exist.
type backup map[string]*savedFile

func snapshot(files []stagedFile) (backup, error) {
	b := make(backup, len(files))
	for _, f := range files {
		info, err := os.Stat(f.path)
		if errors.Is(err, fs.ErrNotExist) {
			b[f.path] = nil
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", f.path, err)
		}
		content, err := os.ReadFile(f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", f.path, err)
		}
		b[f.path] = &savedFile{content: content, perm: info.Mode().Perm()}
	}
	return b, nil
}

// restore puts every file back the way it was when the backup was taken.
func (b backup) restore() error {
	var errs []error
	for path, saved := range b {
		if saved == nil {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if err := renameio.WriteFile(path, saved.content, saved.perm); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// writeFiles replaces each file atomically.
func writeFiles(files []stagedFile) error {
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", f.path, err)
		}
		if err := renameio.WriteFile(f.path, f.content, f.perm); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.path, err)
		}
	}
	return nil
}

func removeFiles(paths []string) error {
	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
