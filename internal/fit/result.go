package fit

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Estimate is a fitted parameter with its 68% interval, Down and Up as positive offsets.
type Estimate struct {
	Name  string
	Value float64
	Down  float64
	Up    float64
}

func (e Estimate) String() string {
	return fmt.Sprintf("%s = %.3f -%.3f/+%.3f", e.Name, e.Value, e.Down, e.Up)
}

type Result struct {
	Method          Method
	Expected        bool
	Estimates       []Estimate
	Significance    float64
	HasSignificance bool
}

func (r Result) Empty() bool { return len(r.Estimates) == 0 && !r.HasSignificance }

// Estimate returns the estimate of one parameter.
func (r Result) Estimate(name string) (Estimate, bool) {
	for _, e := range r.Estimates {
		if e.Name == name {
			return e, true
		}
	}
	return Estimate{}, false
}

const number = `[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`

var (
	// FitDiagnostics: "Best fit r: 1.02  -0.31/+0.35  (68% CL)"
	bestFitRe = regexp.MustCompile(`^\s*Best fit (\S+):\s*(` + number + `)\s+-(` + number + `)/\+(` + number + `)`)
	// MultiDimFit --algo singles: "   r :    +1.000   -0.123/+0.145 (68%)"
	singlesRe = regexp.MustCompile(`^\s*(\S+)\s*:\s*(` + number + `)\s+-(` + number + `)/\+(` + number + `)\s*\(68%\)`)
	// Significance: "Significance: 3.21"
	significanceRe = regexp.MustCompile(`^\s*Significance:\s*(` + number + `)`)
)

// ParseOutput collects every fitted value and significance printed by combine.
// A parameter printed twice keeps its last value.
func ParseOutput(out string) Result {
	var res Result
	set := func(e Estimate) {
		for i := range res.Estimates {
			if res.Estimates[i].Name == e.Name {
				res.Estimates[i] = e
				return
			}
		}
		res.Estimates = append(res.Estimates, e)
	}
	for _, line := range strings.Split(out, "\n") {
		if m := significanceRe.FindStringSubmatch(line); m != nil {
			res.Significance, _ = strconv.ParseFloat(m[1], 64)
			res.HasSignificance = true
			continue
		}
		m := bestFitRe.FindStringSubmatch(line)
		if m == nil {
			m = singlesRe.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		e := Estimate{Name: m[1]}
		e.Value, _ = strconv.ParseFloat(m[2], 64)
		e.Down, _ = strconv.ParseFloat(m[3], 64)
		e.Up, _ = strconv.ParseFloat(m[4], 64)
		set(e)
	}
	return res
}
