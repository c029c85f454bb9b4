package hist

import (
	"fmt"
	"math"
)

// Envelope returns bin-wise minimum and maximum over the nominal and all variations.
func Envelope(nominal *Hist1D, variations []*Hist1D) (down, up *Hist1D, err error) {
	down = nominal.Clone()
	up = nominal.Clone()
	down.Name = nominal.Name + "_envelopeDown"
	up.Name = nominal.Name + "_envelopeUp"
	for _, v := range variations {
		if !nominal.Compatible(v) {
			return nil, nil, fmt.Errorf("hist: envelope of %q: %q has incompatible binning", nominal.Name, v.Name)
		}
		for i, c := range v.Contents {
			down.Contents[i] = math.Min(down.Contents[i], c)
			up.Contents[i] = math.Max(up.Contents[i], c)
		}
	}
	return down, up, nil
}

// RMSEnvelope returns nominal -/+ the root mean square deviation of the variations
// from the nominal, as used for PDF replica sets.
func RMSEnvelope(nominal *Hist1D, variations []*Hist1D) (down, up *Hist1D, err error) {
	if len(variations) == 0 {
		return nil, nil, fmt.Errorf("hist: rms envelope of %q: no variations", nominal.Name)
	}
	sq := make([]float64, nominal.Len())
	for _, v := range variations {
		if !nominal.Compatible(v) {
			return nil, nil, fmt.Errorf("hist: rms envelope of %q: %q has incompatible binning", nominal.Name, v.Name)
		}
		for i, c := range v.Contents {
			d := c - nominal.Contents[i]
			sq[i] += d * d
		}
	}
	down = nominal.Clone()
	up = nominal.Clone()
	down.Name = nominal.Name + "_rmsDown"
	up.Name = nominal.Name + "_rmsUp"
	n := float64(len(variations))
	for i := range sq {
		rms := math.Sqrt(sq[i] / n)
		down.Contents[i] -= rms
		up.Contents[i] += rms
	}
	return down, up, nil
}

// RelativeDifference returns (v - nominal)/nominal per bin, zero where nominal is zero.
func RelativeDifference(nominal, v *Hist1D) (*Hist1D, error) {
	if !nominal.Compatible(v) {
		return nil, fmt.Errorf("hist: relative difference %q vs %q: incompatible binning", v.Name, nominal.Name)
	}
	out := New(v.Name+"_reldiff", nominal.Edges)
	for i, nom := range nominal.Contents {
		if nom == 0 {
			continue
		}
		out.Contents[i] = (v.Contents[i] - nom) / nom
	}
	return out, nil
}
