// Copyright 2026 The OpenTrusty Authors
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

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix  = "audit-"
	fileSuffix  = ".jsonl"
	fileDateFmt = "2006-01-02"
)

// FileSink appends records as JSON lines to one file per UTC day.
type FileSink struct {
	dir string

	mu      sync.Mutex
	day     string
	current *os.File
}

// NewFileSink creates a sink writing under dir, creating it if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (s *FileSink) Name() string { return "file" }

// Write appends rec to the file for its day.
func (s *FileSink) Write(ctx context.Context, rec Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	day := rec.Timestamp.UTC().Format(fileDateFmt)
	if s.current == nil || s.day != day {
		if err := s.rotate(day); err != nil {
			return err
		}
	}
	if _, err := s.current.Write(line); err != nil {
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	return nil
}

func (s *FileSink) rotate(day string) error {
	if s.current != nil {
		_ = s.current.Close()
		s.current = nil
	}
	f, err := os.OpenFile(s.pathFor(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	s.current = f
	s.day = day
	return nil
}

func (s *FileSink) pathFor(day string) string {
	return filepath.Join(s.dir, filePrefix+day+fileSuffix)
}

// Purge deletes day files that end before the given time.
func (s *FileSink) Purge(ctx context.Context, before time.Time) (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list audit dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		day, err := time.Parse(fileDateFmt, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			continue
		}
		if !day.AddDate(0, 0, 1).After(before) {
			if s.current != nil && s.day == day.Format(fileDateFmt) {
				_ = s.current.Close()
				s.current = nil
			}
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				return removed, fmt.Errorf("failed to remove %s: %w", name, err)
			}
			removed++
		}
	}
	return removed, nil
}

// Close releases the open file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}
