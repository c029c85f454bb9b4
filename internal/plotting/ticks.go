package plotting

import (
	"math"
	"strconv"

	"gonum.org/v1/plot"
)

// PreciseTicks places labelled major ticks on 1, 2, 2.5 or 5 times a power of
// ten, aiming for NSuggestedTicks of them, with unlabelled minor ticks between.
// Major values are rounded to the precision of the step so labels stay short.
type PreciseTicks struct {
	NSuggestedTicks int
}

var niceSteps = []float64{1, 2, 2.5, 5, 10}

func (t PreciseTicks) Ticks(min, max float64) []plot.Tick {
	n := t.NSuggestedTicks
	if n < 2 {
		n = 5
	}
	if !(max > min) || math.IsInf(max-min, 0) {
		return nil
	}

	raw := (max - min) / float64(n-1)
	exp := math.Floor(math.Log10(raw))
	tens := math.Pow10(int(exp))
	step := tens
	mult := 1.0
	for _, s := range niceSteps {
		if s*tens >= raw {
			step, mult = s*tens, s
			break
		}
	}

	// Decimal places needed to represent multiples of step.
	prec := 0
	if exp < 0 {
		prec = int(-exp)
	}
	if mult == 2.5 {
		prec++
	}

	var ticks []plot.Tick
	first := math.Ceil(min/step-1e-9) * step
	for k := 0; ; k++ {
		v := first + float64(k)*step
		if v > max+step*1e-9 {
			break
		}
		v = roundTo(v, prec)
		ticks = append(ticks, plot.Tick{Value: v, Label: strconv.FormatFloat(v, 'g', -1, 64)})
	}

	minor := step / 5
	if mult == 2 {
		minor = step / 4
	}
	start := math.Ceil(min/minor-1e-9) * minor
	for k := 0; ; k++ {
		v := start + float64(k)*minor
		if v > max+minor*1e-9 {
			break
		}
		if onMajor(v, step) {
			continue
		}
		ticks = append(ticks, plot.Tick{Value: v})
	}
	return ticks
}

func onMajor(v, step float64) bool {
	r := v / step
	return math.Abs(r-math.Round(r)) < 1e-6
}

func roundTo(x float64, prec int) float64 {
	if x == 0 {
		return 0
	}
	pow := math.Pow10(prec)
	r := math.Round(x*pow) / pow
	if r == 0 {
		return 0
	}
	return r
}
