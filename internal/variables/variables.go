// Package variables reads and writes the JSON histogram-axis definitions shared
// between the event-loop executables and the plotting tools.
package variables

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/decibelcooper/cmsana/internal/anaerr"
)

type Variable struct {
	Name          string    `json:"name"`
	Expression    string    `json:"variable,omitempty"`
	NBins         int       `json:"nbins,omitempty"`
	XLow          float64   `json:"xlow,omitempty"`
	XHigh         float64   `json:"xhigh,omitempty"`
	Bins          []float64 `json:"bins,omitempty"`
	XAxisTitle    string    `json:"xaxtitle,omitempty"`
	Unit          string    `json:"unit,omitempty"`
	IsCategorical bool      `json:"iscategorical,omitempty"`
}

// Edges returns the bin edges, either the explicit ones or nbins equal-width bins.
func (v Variable) Edges() []float64 {
	if len(v.Bins) > 0 {
		return append([]float64(nil), v.Bins...)
	}
	edges := make([]float64, v.NBins+1)
	width := (v.XHigh - v.XLow) / float64(v.NBins)
	for i := range edges {
		edges[i] = v.XLow + float64(i)*width
	}
	edges[v.NBins] = v.XHigh
	return edges
}

// AxisTitle is the x-axis label with the unit appended in brackets.
func (v Variable) AxisTitle() string {
	title := v.XAxisTitle
	if title == "" {
		title = v.Name
	}
	if v.Unit != "" {
		title += " (" + v.Unit + ")"
	}
	return title
}

func (v Variable) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("missing name")
	}
	if len(v.Bins) > 0 {
		if len(v.Bins) < 2 {
			return fmt.Errorf("%s: need at least two bin edges", v.Name)
		}
		if !sort.Float64sAreSorted(v.Bins) {
			return fmt.Errorf("%s: bin edges not increasing", v.Name)
		}
		for i := 1; i < len(v.Bins); i++ {
			if v.Bins[i] == v.Bins[i-1] {
				return fmt.Errorf("%s: duplicate bin edge %v", v.Name, v.Bins[i])
			}
		}
		return nil
	}
	if v.NBins <= 0 {
		return fmt.Errorf("%s: nbins must be positive", v.Name)
	}
	if v.XLow >= v.XHigh {
		return fmt.Errorf("%s: xlow %v not below xhigh %v", v.Name, v.XLow, v.XHigh)
	}
	return nil
}

type Set []Variable

func (s Set) Validate() error {
	seen := make(map[string]bool, len(s))
	for i, v := range s {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("variable[%d]: %w", i, err)
		}
		if seen[v.Name] {
			return fmt.Errorf("variable[%d]: duplicate name %q", i, v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}

func (s Set) Find(name string) (Variable, bool) {
	for _, v := range s {
		if v.Name == name {
			return v, true
		}
	}
	return Variable{}, false
}

func (s Set) Names() []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = v.Name
	}
	return out
}

func Read(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, anaerr.NotFound("variables.read", path, err)
	}
	var set Set
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, anaerr.Invalid("variables.read", path, "%v", err)
	}
	if err := set.Validate(); err != nil {
		return nil, anaerr.Invalid("variables.read", path, "%v", err)
	}
	return set, nil
}

func Write(path string, set Set) error {
	if err := set.Validate(); err != nil {
		return anaerr.Invalid("variables.write", path, "%v", err)
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
