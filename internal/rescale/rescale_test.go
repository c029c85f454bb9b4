package rescale

import (
	"math"
	"strings"
	"testing"

	"github.com/decibelcooper/cmsana/internal/hist"
)

func h(name string, contents ...float64) *hist.Hist1D {
	out := hist.NewUniform(name, len(contents), 0, float64(len(contents)))
	for i, c := range contents {
		out.Contents[i] = c
		out.SumW2[i] = c
	}
	return out
}

func TestFactorMatchesIntegralRatio(t *testing.T) {
	data := h("data_cr_tight_njets_nominal", 60, 40)
	target := h("WZ_cr_tight_njets_nominal", 30, 20)
	other := h("TTZ_cr_tight_njets_nominal", 10, 10)
	res, err := Factor(data, target, []*hist.Hist1D{other})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := (100.0 - 20.0) / 50.0
	if math.Abs(res.Factor-want) > 1e-12 {
		t.Fatalf("want %v, got %v", want, res.Factor)
	}
	wantErr := want * math.Sqrt(50.0/(50*50)+120.0/(80*80))
	if math.Abs(res.Error-wantErr) > 1e-12 {
		t.Fatalf("want error %v, got %v", wantErr, res.Error)
	}
}

func TestFactorZeroTarget(t *testing.T) {
	if _, err := Factor(h("data", 1), h("WZ", 0), nil); err == nil {
		t.Fatalf("expected error for empty target")
	}
}

func TestFactorFromNames(t *testing.T) {
	hists := []*hist.Hist1D{
		h("data_cr_tight_njets_nominal", 100),
		h("WZ_cr_tight_njets_nominal", 40),
		h("TTZ_cr_tight_njets_nominal", 20),
		h("badname", 1000),
	}
	res, err := FactorFromNames(hists, "data", "WZ", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Factor != 2 {
		t.Fatalf("expected factor 2, got %v", res.Factor)
	}
	if _, err := FactorFromNames(hists, "data", "ZZ", nil); err == nil {
		t.Fatalf("expected missing target error")
	}
}

func TestFactorFromNamesRejectsDuplicates(t *testing.T) {
	// Two selection types in one control set: neither may silently win.
	hists := []*hist.Hist1D{
		h("data_cr_tight_njets_nominal", 100),
		h("data_cr_fakerate_njets_nominal", 60),
		h("WZ_cr_tight_njets_nominal", 50),
		h("WZ_cr_fakerate_njets_nominal", 30),
		h("TTZ_cr_tight_njets_nominal", 30),
		h("TTZ_cr_fakerate_njets_nominal", 10),
	}
	if _, err := FactorFromNames(hists, "data", "WZ", nil); err == nil || !strings.Contains(err.Error(), "two histograms") {
		t.Fatalf("expected duplicate data error, got %v", err)
	}
	tight := []*hist.Hist1D{hists[0], hists[2], hists[3], hists[4]}
	if _, err := FactorFromNames(tight, "data", "WZ", nil); err == nil {
		t.Fatalf("expected duplicate target error")
	}
	res, err := FactorFromNames([]*hist.Hist1D{hists[0], hists[2], hists[4]}, "data", "WZ", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(res.Factor-1.4) > 1e-12 {
		t.Fatalf("expected factor 1.4, got %v", res.Factor)
	}
}

func TestFactorFromNamesWithUnderscoredProcesses(t *testing.T) {
	hists := []*hist.Hist1D{
		h("data_cr_tight_njets_nominal", 100),
		h("TTZ_cr_tight_njets_nominal", 40),
		h("TTZ_other_cr_tight_njets_nominal", 20),
	}
	res, err := FactorFromNames(hists, "data", "TTZ", []string{"TTZ_other"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Factor != 2 {
		t.Fatalf("expected factor 2, got %v", res.Factor)
	}
}

func TestApply(t *testing.T) {
	hists := []*hist.Hist1D{
		h("WZ_sr_tight_njets_nominal", 2),
		h("WZ_sr_tight_njets_jecUp", 4),
		h("WZZ_sr_tight_njets_nominal", 8),
	}
	if n := Apply(hists, "WZ", nil, 1.5); n != 2 {
		t.Fatalf("expected two scaled, got %d", n)
	}
	if hists[0].Contents[0] != 3 || hists[1].Contents[0] != 6 || hists[2].Contents[0] != 8 {
		t.Fatalf("unexpected contents after rescale")
	}
	if n := Apply(hists, "ZZ", nil, 2); n != 0 {
		t.Fatalf("expected no matches")
	}
}

func TestApplyMatchesExactProcess(t *testing.T) {
	hists := []*hist.Hist1D{
		h("TTZ_sr_tight_njets_nominal", 2),
		h("TTZ_other_sr_tight_njets_nominal", 4),
	}
	if n := Apply(hists, "TTZ", []string{"TTZ", "TTZ_other"}, 2); n != 1 {
		t.Fatalf("expected one scaled, got %d", n)
	}
	if hists[0].Contents[0] != 4 || hists[1].Contents[0] != 4 {
		t.Fatalf("TTZ_other was rescaled along with TTZ: %v %v", hists[0].Contents, hists[1].Contents)
	}
}
