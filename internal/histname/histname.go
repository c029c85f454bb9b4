// Package histname implements the histogram naming convention
// <process>_<region>_<selectiontype>_<variable>_<systematic>
// and the substring filters used to pick histograms out of a file.
package histname

import (
	"fmt"
	"sort"
	"strings"
)

const sep = "_"

type Name struct {
	Process       string
	Region        string
	SelectionType string
	Variable      string
	Systematic    string
}

func (n Name) String() string {
	return strings.Join([]string{n.Process, n.Region, n.SelectionType, n.Variable, n.Systematic}, sep)
}

// WithSystematic returns a copy of n for another systematic variation.
func (n Name) WithSystematic(sys string) Name {
	n.Systematic = sys
	return n
}

func (n Name) WithProcess(process string) Name {
	n.Process = process
	return n
}

// Parse splits a histogram name assuming the process, region and selection type
// contain no underscore. The variable takes whatever lies between the selection
// type and the systematic.
func Parse(name string) (Name, error) {
	fields := strings.Split(name, sep)
	if len(fields) < 5 {
		return Name{}, fmt.Errorf("histogram name %q has %d fields, need at least 5", name, len(fields))
	}
	return Name{
		Process:       fields[0],
		Region:        fields[1],
		SelectionType: fields[2],
		Variable:      strings.Join(fields[3:len(fields)-1], sep),
		Systematic:    fields[len(fields)-1],
	}, nil
}

// ParseWithProcesses is Parse for process names that may contain underscores:
// the longest known process that prefixes name wins.
func ParseWithProcesses(name string, processes []string) (Name, error) {
	candidates := append([]string(nil), processes...)
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })
	for _, p := range candidates {
		if !strings.HasPrefix(name, p+sep) {
			continue
		}
		rest, err := parseTail(strings.TrimPrefix(name, p+sep))
		if err != nil {
			return Name{}, fmt.Errorf("histogram name %q: %w", name, err)
		}
		rest.Process = p
		return rest, nil
	}
	return Name{}, fmt.Errorf("histogram name %q starts with no known process", name)
}

func parseTail(tail string) (Name, error) {
	fields := strings.Split(tail, sep)
	if len(fields) < 4 {
		return Name{}, fmt.Errorf("%d fields after the process, need at least 4", len(fields))
	}
	return Name{
		Region:        fields[0],
		SelectionType: fields[1],
		Variable:      strings.Join(fields[2:len(fields)-1], sep),
		Systematic:    fields[len(fields)-1],
	}, nil
}

// RenameProcess replaces the leading process of name. Names that do not start
// with from are returned unchanged.
func RenameProcess(name, from, to string) (string, bool) {
	if !strings.HasPrefix(name, from+sep) {
		return name, false
	}
	return to + strings.TrimPrefix(name, from), true
}

type Direction string

const (
	NoDirection Direction = ""
	Up          Direction = "Up"
	Down        Direction = "Down"
)

// SplitSystematic separates a variation name such as "jecUp" into its base and direction.
func SplitSystematic(sys string) (string, Direction) {
	switch {
	case strings.HasSuffix(sys, string(Up)) && len(sys) > len(Up):
		return strings.TrimSuffix(sys, string(Up)), Up
	case strings.HasSuffix(sys, string(Down)) && len(sys) > len(Down):
		return strings.TrimSuffix(sys, string(Down)), Down
	}
	return sys, NoDirection
}

// Selector holds the four substring conditions. Empty lists impose nothing.
type Selector struct {
	MustContainOne   []string
	MustContainAll   []string
	MayNotContainOne []string
	MayNotContainAll []string
}

func (s Selector) IsZero() bool {
	return len(s.MustContainOne) == 0 && len(s.MustContainAll) == 0 &&
		len(s.MayNotContainOne) == 0 && len(s.MayNotContainAll) == 0
}

func (s Selector) Match(name string) bool {
	if len(s.MustContainOne) > 0 && !containsAny(name, s.MustContainOne) {
		return false
	}
	if len(s.MustContainAll) > 0 && !containsAll(name, s.MustContainAll) {
		return false
	}
	if len(s.MayNotContainOne) > 0 && containsAny(name, s.MayNotContainOne) {
		return false
	}
	if len(s.MayNotContainAll) > 0 && containsAll(name, s.MayNotContainAll) {
		return false
	}
	return true
}

// Select returns the matching names in input order along with their indices.
func (s Selector) Select(names []string) ([]string, []int) {
	var selected []string
	var indices []int
	for i, name := range names {
		if s.Match(name) {
			selected = append(selected, name)
			indices = append(indices, i)
		}
	}
	return selected, indices
}

func containsAny(name string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

func containsAll(name string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(name, sub) {
			return false
		}
	}
	return true
}
