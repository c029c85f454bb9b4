// Package datacard builds and writes the text datacards read by the combine
// statistical tool, one channel per card, with shapes taken from a ROOT file.
package datacard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/decibelcooper/cmsana/internal/anaerr"
)

// SystType is the nuisance parameter kind in the systematics table.
type SystType string

const (
	LnN   SystType = "lnN"
	LnU   SystType = "lnU"
	Shape SystType = "shape"
)

func (t SystType) valid() bool {
	switch t {
	case LnN, LnU, Shape:
		return true
	}
	return false
}

// DataProcess is the process name combine expects for the observation.
const DataProcess = "data_obs"

const separator = "----------------------------------------------------------------------------------------------------"

type Process struct {
	Name   string
	Signal bool
	Rate   float64
}

// Systematic maps process names to the value written in their column. Processes
// absent from Values are unaffected and get "-".
type Systematic struct {
	Name   string
	Type   SystType
	Values map[string]string
}

// RateParam is a free floating normalisation applied to one process.
type RateParam struct {
	Name    string
	Process string
	Value   float64
	// Min and Max give the allowed range; both zero leaves it unset.
	Min, Max float64
}

type Card struct {
	Channel     string
	Observation float64
	Processes   []Process
	Systematics []Systematic
	// ShapesFile is written relative to the card location when possible.
	ShapesFile string
	// NominalPattern and SystematicPattern locate histograms in ShapesFile.
	NominalPattern    string
	SystematicPattern string
	// AutoMCStats is the event threshold for bin-by-bin statistical nuisances;
	// negative disables them.
	AutoMCStats int
	RateParams  []RateParam
}

// Indices numbers signals 0, -1, -2 and backgrounds 1, 2, 3 in card order.
func (c Card) Indices() []int {
	out := make([]int, len(c.Processes))
	sig, bkg := 0, 1
	for i, p := range c.Processes {
		if p.Signal {
			out[i] = sig
			sig--
		} else {
			out[i] = bkg
			bkg++
		}
	}
	return out
}

func (c Card) Validate() error {
	const op = "datacard.validate"
	if c.Channel == "" {
		return anaerr.Invalid(op, "", "missing channel name")
	}
	if strings.ContainsAny(c.Channel, " \t") {
		return anaerr.Invalid(op, "", "channel %q contains whitespace", c.Channel)
	}
	if len(c.Processes) == 0 {
		return anaerr.Invalid(op, "", "channel %s has no processes", c.Channel)
	}
	seen := make(map[string]bool, len(c.Processes))
	signals := 0
	for _, p := range c.Processes {
		if p.Name == "" || p.Name == DataProcess {
			return anaerr.Invalid(op, "", "channel %s: invalid process name %q", c.Channel, p.Name)
		}
		if seen[p.Name] {
			return anaerr.Invalid(op, "", "channel %s: duplicate process %s", c.Channel, p.Name)
		}
		seen[p.Name] = true
		if p.Signal {
			signals++
		}
	}
	if signals == 0 {
		return anaerr.Invalid(op, "", "channel %s has no signal process", c.Channel)
	}
	names := make(map[string]bool, len(c.Systematics))
	for _, s := range c.Systematics {
		if !s.Type.valid() {
			return anaerr.Invalid(op, "", "systematic %s: unknown type %q", s.Name, s.Type)
		}
		if names[s.Name] {
			return anaerr.Invalid(op, "", "duplicate systematic %s", s.Name)
		}
		names[s.Name] = true
		for proc := range s.Values {
			if !seen[proc] {
				return anaerr.Invalid(op, "", "systematic %s: unknown process %s", s.Name, proc)
			}
		}
		if s.Type == Shape && c.ShapesFile == "" {
			return anaerr.Invalid(op, "", "shape systematic %s without a shapes file", s.Name)
		}
	}
	for _, rp := range c.RateParams {
		if !seen[rp.Process] {
			return anaerr.Invalid(op, "", "rateParam %s: unknown process %s", rp.Name, rp.Process)
		}
	}
	return nil
}

// Write renders the card in combine's text format.
func (c Card) Write(w io.Writer) error {
	if err := c.Validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "imax 1 number of channels\n")
	fmt.Fprintf(bw, "jmax %d number of processes minus 1\n", len(c.Processes)-1)
	fmt.Fprintf(bw, "kmax * number of nuisance parameters\n")
	fmt.Fprintln(bw, separator)
	if c.ShapesFile != "" {
		fmt.Fprintf(bw, "shapes * * %s %s %s\n", c.ShapesFile, c.NominalPattern, c.SystematicPattern)
		fmt.Fprintln(bw, separator)
	}
	fmt.Fprintf(bw, "bin          %s\n", c.Channel)
	fmt.Fprintf(bw, "observation  %s\n", formatNumber(c.Observation))
	fmt.Fprintln(bw, separator)

	tw := tabwriter.NewWriter(bw, 0, 0, 2, ' ', 0)
	idx := c.Indices()
	row := func(head, kind string, cell func(i int, p Process) string) {
		fmt.Fprintf(tw, "%s\t%s", head, kind)
		for i, p := range c.Processes {
			fmt.Fprintf(tw, "\t%s", cell(i, p))
		}
		fmt.Fprint(tw, "\n")
	}
	row("bin", "", func(int, Process) string { return c.Channel })
	row("process", "", func(_ int, p Process) string { return p.Name })
	row("process", "", func(i int, _ Process) string { return strconv.Itoa(idx[i]) })
	row("rate", "", func(_ int, p Process) string { return formatNumber(p.Rate) })
	fmt.Fprintf(tw, "%s\n", separator)
	for _, s := range c.Systematics {
		row(s.Name, string(s.Type), func(_ int, p Process) string {
			if v, ok := s.Values[p.Name]; ok && v != "" {
				return v
			}
			return "-"
		})
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if c.AutoMCStats >= 0 || len(c.RateParams) > 0 {
		fmt.Fprintln(bw, separator)
	}
	if c.AutoMCStats >= 0 {
		fmt.Fprintf(bw, "%s autoMCStats %d\n", c.Channel, c.AutoMCStats)
	}
	for _, rp := range c.RateParams {
		fmt.Fprintf(bw, "%s rateParam %s %s %s", rp.Name, c.Channel, rp.Process, formatNumber(rp.Value))
		if rp.Min != 0 || rp.Max != 0 {
			fmt.Fprintf(bw, " [%s,%s]", formatNumber(rp.Min), formatNumber(rp.Max))
		}
		fmt.Fprintln(bw)
	}
	return bw.Flush()
}

// WriteFile writes the card to path, creating its directory.
func (c Card) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("datacard: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("datacard: %w", err)
	}
	if err := c.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("datacard %s: %w", path, err)
	}
	return f.Close()
}

// SystematicNames returns the nuisance names in card order.
func (c Card) SystematicNames() []string {
	out := make([]string, len(c.Systematics))
	for i, s := range c.Systematics {
		out[i] = s.Name
	}
	return out
}

var typeOrder = map[SystType]int{LnN: 0, LnU: 1, Shape: 2}

// sortSystematics orders rate uncertainties before shapes, by name within a type.
func sortSystematics(systs []Systematic) {
	sort.SliceStable(systs, func(i, j int) bool {
		a, b := typeOrder[systs[i].Type], typeOrder[systs[j].Type]
		if a != b {
			return a < b
		}
		return systs[i].Name < systs[j].Name
	})
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
