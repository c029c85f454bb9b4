package datacard

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/decibelcooper/cmsana/internal/anaerr"
)

// AllProcesses as a process key applies a catalog value to every simulated process.
const AllProcesses = "*"

// yamlCatalog is the on-disk layout of a systematics catalog:
//
//	systematics:
//	  - name: lumi
//	    type: lnN
//	    processes: {"*": 1.016}
//	  - name: xsec_WZ
//	    type: lnN
//	    processes: {WZ: 0.9/1.1}
//	    years: ["2018"]
//	rateparams:
//	  - name: r_WZ
//	    process: WZ
//	    range: [0, 5]
//	ignore_shapes: [pdf]
type yamlCatalog struct {
	Systematics  []yamlSystematic `yaml:"systematics"`
	RateParams   []yamlRateParam  `yaml:"rateparams"`
	IgnoreShapes []string         `yaml:"ignore_shapes"`
}

type yamlSystematic struct {
	Name      string         `yaml:"name"`
	Type      string         `yaml:"type"`
	Processes map[string]any `yaml:"processes"`
	Years     []string       `yaml:"years"`
	Regions   []string       `yaml:"regions"`
}

type yamlRateParam struct {
	Name    string    `yaml:"name"`
	Process string    `yaml:"process"`
	Value   *float64  `yaml:"value"`
	Range   []float64 `yaml:"range"`
}

// Entry is one rate systematic from the catalog. Empty Years or Regions match all.
type Entry struct {
	Systematic
	Years   []string
	Regions []string
}

// Catalog lists the rate systematics and rate parameters added to every card,
// and shape systematics to leave out even when their histograms exist.
type Catalog struct {
	Entries      []Entry
	RateParams   []RateParam
	IgnoreShapes []string
}

func LoadCatalog(path string) (Catalog, error) {
	const op = "datacard.catalog"
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Catalog{}, anaerr.NotFound(op, path, err)
		}
		return Catalog{}, fmt.Errorf("%s: %w", op, err)
	}
	var dto yamlCatalog
	if err := yaml.Unmarshal(b, &dto); err != nil {
		return Catalog{}, anaerr.Invalid(op, path, "%v", err)
	}
	cat, err := dto.toCatalog()
	if err != nil {
		return Catalog{}, anaerr.Invalid(op, path, "%v", err)
	}
	return cat, nil
}

func (dto yamlCatalog) toCatalog() (Catalog, error) {
	cat := Catalog{IgnoreShapes: dto.IgnoreShapes}
	for i, s := range dto.Systematics {
		if s.Name == "" {
			return Catalog{}, fmt.Errorf("systematics[%d]: missing name", i)
		}
		t := SystType(s.Type)
		if t == "" {
			t = LnN
		}
		if t != LnN && t != LnU {
			return Catalog{}, fmt.Errorf("systematic %s: type %q is not a rate type", s.Name, s.Type)
		}
		if len(s.Processes) == 0 {
			return Catalog{}, fmt.Errorf("systematic %s: no processes", s.Name)
		}
		values := make(map[string]string, len(s.Processes))
		for proc, raw := range s.Processes {
			v, err := rateValue(raw)
			if err != nil {
				return Catalog{}, fmt.Errorf("systematic %s, process %s: %w", s.Name, proc, err)
			}
			values[proc] = v
		}
		cat.Entries = append(cat.Entries, Entry{
			Systematic: Systematic{Name: s.Name, Type: t, Values: values},
			Years:      s.Years,
			Regions:    s.Regions,
		})
	}
	for i, rp := range dto.RateParams {
		if rp.Name == "" || rp.Process == "" {
			return Catalog{}, fmt.Errorf("rateparams[%d]: name and process are required", i)
		}
		p := RateParam{Name: rp.Name, Process: rp.Process, Value: 1}
		if rp.Value != nil {
			p.Value = *rp.Value
		}
		switch len(rp.Range) {
		case 0:
		case 2:
			p.Min, p.Max = rp.Range[0], rp.Range[1]
			if p.Min >= p.Max {
				return Catalog{}, fmt.Errorf("rateparam %s: empty range", rp.Name)
			}
		default:
			return Catalog{}, fmt.Errorf("rateparam %s: range needs two values", rp.Name)
		}
		cat.RateParams = append(cat.RateParams, p)
	}
	return cat, nil
}

// rateValue accepts a symmetric value (1.05) or an asymmetric down/up pair (0.95/1.07).
func rateValue(raw any) (string, error) {
	switch v := raw.(type) {
	case int:
		return checkRate(float64(v), strconv.Itoa(v))
	case float64:
		return checkRate(v, strconv.FormatFloat(v, 'g', -1, 64))
	case string:
		down, up, asym := strings.Cut(v, "/")
		parts := []string{down}
		if asym {
			parts = append(parts, up)
		}
		for _, p := range parts {
			f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return "", fmt.Errorf("invalid value %q", v)
			}
			if _, err := checkRate(f, p); err != nil {
				return "", err
			}
		}
		return strings.ReplaceAll(v, " ", ""), nil
	}
	return "", fmt.Errorf("unsupported value %v", raw)
}

func checkRate(f float64, s string) (string, error) {
	if f <= 0 {
		return "", fmt.Errorf("value %s must be positive", s)
	}
	return s, nil
}

func matches(list []string, v string) bool {
	if len(list) == 0 {
		return true
	}
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}

// Apply returns the catalog systematics for a channel of the given year and
// region, restricted to the processes present. Entries touching none of them
// are dropped.
func (c Catalog) Apply(processes []Process, year, region string) []Systematic {
	var out []Systematic
	for _, e := range c.Entries {
		if !matches(e.Years, year) || !matches(e.Regions, region) {
			continue
		}
		values := make(map[string]string)
		for _, p := range processes {
			if v, ok := e.Values[p.Name]; ok {
				values[p.Name] = v
			} else if v, ok := e.Values[AllProcesses]; ok {
				values[p.Name] = v
			}
		}
		if len(values) == 0 {
			continue
		}
		out = append(out, Systematic{Name: e.Name, Type: e.Type, Values: values})
	}
	return out
}

// RateParamsFor keeps the rate parameters whose process is in the card.
func (c Catalog) RateParamsFor(processes []Process) []RateParam {
	present := make(map[string]bool, len(processes))
	for _, p := range processes {
		present[p.Name] = true
	}
	var out []RateParam
	for _, rp := range c.RateParams {
		if present[rp.Process] {
			out = append(out, rp)
		}
	}
	return out
}

// Ignored reports whether a shape systematic is excluded by the catalog.
func (c Catalog) Ignored(systematic string) bool {
	for _, ig := range c.IgnoreShapes {
		if ig == systematic {
			return true
		}
	}
	return false
}
