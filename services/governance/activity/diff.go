// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package activity

import (
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// maxAddedLinesPerFile caps how much of each file a summary keeps.
const maxAddedLinesPerFile = 200

// DiffSummary is the drift-relevant part of a unified diff: which files
// changed and what was added. Removed lines are dropped; drift is about
// what the project is moving towards.
type DiffSummary struct {
	Files []string
	Added map[string][]string
}

// SummarizeDiff parses a (multi-file) unified diff.
func SummarizeDiff(patch string) (*DiffSummary, error) {
	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(patch)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("parse diff: %w", err)
	}
	s := &DiffSummary{Added: make(map[string][]string)}
	for _, fd := range fileDiffs {
		name := cleanName(fd.NewName)
		if name == "" {
			name = cleanName(fd.OrigName)
		}
		if name == "" {
			continue
		}
		if _, seen := s.Added[name]; !seen {
			s.Files = append(s.Files, name)
			s.Added[name] = nil
		}
		for _, hunk := range fd.Hunks {
			for _, line := range strings.Split(string(hunk.Body), "\n") {
				if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
					continue
				}
				added := strings.TrimSpace(line[1:])
				if added == "" || len(s.Added[name]) >= maxAddedLinesPerFile {
					continue
				}
				s.Added[name] = append(s.Added[name], added)
			}
		}
	}
	if len(s.Files) == 0 {
		return nil, fmt.Errorf("parse diff: no file changes found")
	}
	return s, nil
}

// Text renders the summary as the activity text analyzed for drift.
func (s *DiffSummary) Text() string {
	var b strings.Builder
	for i, name := range s.Files {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "changed %s", name)
		for _, line := range s.Added[name] {
			b.WriteString("\n")
			b.WriteString(line)
		}
	}
	return b.String()
}

func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "/dev/null" {
		return ""
	}
	for _, p := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, p) {
			return strings.TrimPrefix(name, p)
		}
	}
	return name
}
