// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drift

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// DefaultSignals is the signal catalog compiled into the binary.
//
//go:embed signals.yaml
var DefaultSignals []byte

// SignalKind wraps datatypes.ViolationKind so YAML decoding can reject
// unknown kinds.
type SignalKind datatypes.ViolationKind

func (k *SignalKind) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch v := datatypes.ViolationKind(s); v {
	case datatypes.ViolationArchitectural, datatypes.ViolationTechnologyChoice, datatypes.ViolationPattern:
		*k = SignalKind(v)
		return nil
	default:
		return fmt.Errorf("invalid signal kind: %q", s)
	}
}

// Signal is one recognizable technology or design choice.
type Signal struct {
	Term     string     `yaml:"term"`
	Category string     `yaml:"category"`
	Kind     SignalKind `yaml:"kind"`
	Priority int        `yaml:"priority"`
	Regex    string     `yaml:"regex"`

	compiled *regexp.Regexp
}

// Find returns the first match in text, or "".
func (s *Signal) Find(text string) string {
	if s.compiled == nil {
		return ""
	}
	return s.compiled.FindString(text)
}

// Catalog is an ordered set of compiled signals.
type Catalog struct {
	Signals []Signal `yaml:"signals"`
}

// LoadCatalog parses a YAML catalog, compiles every regex case-insensitively
// and sorts signals by priority, highest first, then by term.
func LoadCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signal catalog: %w", err)
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	c.sortByPriority()
	return &c, nil
}

// DefaultCatalog loads the embedded catalog. It panics on a malformed
// embedded file since that is a build defect.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(DefaultSignals)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) compile() error {
	seen := make(map[string]bool, len(c.Signals))
	for i := range c.Signals {
		s := &c.Signals[i]
		if s.Term == "" || s.Category == "" {
			return fmt.Errorf("signal %d: term and category are required", i)
		}
		if seen[s.Term] {
			return fmt.Errorf("duplicate signal term %q", s.Term)
		}
		seen[s.Term] = true
		re, err := regexp.Compile("(?i)" + s.Regex)
		if err != nil {
			return fmt.Errorf("failed to compile the regex for %s: %w", s.Term, err)
		}
		s.compiled = re
	}
	return nil
}

func (c *Catalog) sortByPriority() {
	sort.SliceStable(c.Signals, func(i, j int) bool {
		if c.Signals[i].Priority != c.Signals[j].Priority {
			return c.Signals[i].Priority > c.Signals[j].Priority
		}
		return c.Signals[i].Term < c.Signals[j].Term
	})
}

// Match is a signal found in a text.
type Match struct {
	Signal *Signal
	Text   string
}

// Scan returns every signal found in text, in catalog order.
func (c *Catalog) Scan(text string) []Match {
	var out []Match
	for i := range c.Signals {
		if m := c.Signals[i].Find(text); m != "" {
			out = append(out, Match{Signal: &c.Signals[i], Text: m})
		}
	}
	return out
}
