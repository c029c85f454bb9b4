package merge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/hist"
	"github.com/decibelcooper/cmsana/internal/histname"
	"github.com/decibelcooper/cmsana/internal/runner"
	"github.com/decibelcooper/cmsana/internal/samples"
)

func writeHists(t *testing.T, path string, hists map[string][]float64) {
	t.Helper()
	var out []*hist.Hist1D
	for name, contents := range hists {
		h := hist.NewUniform(name, len(contents), 0, float64(len(contents)))
		for i, c := range contents {
			h.Fill(float64(i)+0.5, c)
		}
		out = append(out, h)
	}
	if err := hist.WriteFile(path, out); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNativeMergeRenamesAndClips(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.root")
	b := filepath.Join(dir, "b.root")
	writeHists(t, a, map[string][]float64{
		"TTZ_sr_tight_njets_nominal": {1, -3},
		"TTW_sr_tight_njets_nominal": {2, 2},
	})
	writeHists(t, b, map[string][]float64{
		"TTH_sr_tight_njets_nominal": {0.5, 1},
		"TTW_sr_tight_njets_nominal": {1, 1},
	})

	out := filepath.Join(dir, "merged.root")
	m := Native{Options: Options{
		Rename: map[string]string{"TTZ": "TTX", "TTH": "TTX"},
		Clip:   true,
	}}
	if err := m.Merge(context.Background(), out, []string{a, b}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	ttx, err := hist.ReadOne(out, "TTX_sr_tight_njets_nominal")
	if err != nil {
		t.Fatalf("read TTX: %v", err)
	}
	// 1+0.5 in the first bin, -3+1 clipped to zero in the second.
	if ttx.Contents[0] != 1.5 || ttx.Contents[1] != 0 {
		t.Fatalf("unexpected TTX contents %v", ttx.Contents)
	}
	ttw, err := hist.ReadOne(out, "TTW_sr_tight_njets_nominal")
	if err != nil {
		t.Fatalf("read TTW: %v", err)
	}
	if ttw.Contents[0] != 3 || ttw.Contents[1] != 3 {
		t.Fatalf("unexpected TTW contents %v", ttw.Contents)
	}
	names, _ := hist.ListNames(out)
	if len(names) != 2 {
		t.Fatalf("expected two merged histograms, got %v", names)
	}
}

func TestNativeMergeSelector(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.root")
	writeHists(t, a, map[string][]float64{
		"TTW_sr_tight_njets_nominal": {1},
		"TTW_sr_tight_njets_jecUp":   {2},
	})
	out := filepath.Join(dir, "out.root")
	m := Native{Options: Options{Selector: histname.Selector{MayNotContainOne: []string{"jec"}}}}
	if err := m.Merge(context.Background(), out, []string{a}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	names, _ := hist.ListNames(out)
	if len(names) != 1 || names[0] != "TTW_sr_tight_njets_nominal" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestMergeMissingInput(t *testing.T) {
	dir := t.TempDir()
	err := Native{}.Merge(context.Background(), filepath.Join(dir, "out.root"), []string{filepath.Join(dir, "absent.root")})
	if !anaerr.IsKind(err, anaerr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	err = Hadd{Runner: &runner.Dry{}}.Merge(context.Background(), "out.root", nil)
	if !anaerr.IsKind(err, anaerr.KindInvalidInput) {
		t.Fatalf("expected invalid input for no inputs, got %v", err)
	}
}

func TestHaddCommand(t *testing.T) {
	dir := t.TempDir()
	in1 := filepath.Join(dir, "TTW_1.root")
	in2 := filepath.Join(dir, "TTW_2.root")
	for _, p := range []string{in1, in2} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	d := &runner.Dry{}
	out := filepath.Join(dir, "TTW.root")
	if err := (Hadd{Runner: d, Force: true}).Merge(context.Background(), out, []string{in1, in2}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	calls := d.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one call, got %d", len(calls))
	}
	want := strings.Join([]string{"hadd", "-f", out, in1, in2}, " ")
	if calls[0].String() != want {
		t.Fatalf("want %s, got %s", want, calls[0].String())
	}
}

func TestRenameProcesses(t *testing.T) {
	rename := map[string]string{"TTZ": "TTX", "TTZ_other": "Other"}
	if got := RenameProcesses("TTZ_other_sr_tight_njets_nominal", rename); got != "Other_sr_tight_njets_nominal" {
		t.Fatalf("expected longest rule to win, got %s", got)
	}
	if got := RenameProcesses("TTZ_sr_tight_njets_nominal", rename); got != "TTX_sr_tight_njets_nominal" {
		t.Fatalf("unexpected rename %s", got)
	}
	if got := RenameProcesses("WZ_sr_tight_njets_nominal", rename); got != "WZ_sr_tight_njets_nominal" {
		t.Fatalf("unexpected rename %s", got)
	}
}

func TestParseRename(t *testing.T) {
	got, err := ParseRename([]string{"TTZ=TTX", " TTH = TTX "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["TTH"] != "TTX" || len(got) != 2 {
		t.Fatalf("unexpected rules %v", got)
	}
	if _, err := ParseRename([]string{"TTZ"}); err == nil {
		t.Fatalf("expected error for rule without =")
	}
}

func TestPlanByProcess(t *testing.T) {
	list := []samples.Sample{
		{Process: "TTZ", Path: "TTZToLL_Autumn18.root"},
		{Process: "TTZlow", Path: "TTZToLL_M-1to10_Autumn18.root"},
		{Process: "TTW", Path: "TTWJetsToLNu_Autumn18.root"},
	}
	files := []string{
		"/out/TTWJetsToLNu_Autumn18_sr.root",
		"/out/TTZToLL_Autumn18_sr.root",
		"/out/TTZToLL_M-1to10_Autumn18_sr.root",
		"/out/WZ_sr.root",
	}
	steps, unmatched := PlanByProcess(files, list, "/merged")
	if len(unmatched) != 1 || unmatched[0] != "/out/WZ_sr.root" {
		t.Fatalf("unexpected unmatched %v", unmatched)
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}
	for _, s := range steps {
		if len(s.Inputs) != 1 {
			t.Fatalf("expected one input per process, got %+v", s)
		}
		if s.Output == "/merged/TTZlow.root" && s.Inputs[0] != "/out/TTZToLL_M-1to10_Autumn18_sr.root" {
			t.Fatalf("low-mass sample claimed by the wrong process: %+v", s)
		}
	}
}

func TestPlanByYearAndCombined(t *testing.T) {
	list := []samples.Sample{
		{Process: "TTW", Path: "TTWJetsToLNu_Fall17.root"},
		{Process: "TTW", Path: "TTWJetsToLNu_Autumn18.root"},
		{Process: "WZ", Path: "WZTo3LNu_Autumn18.root"},
	}
	files := []string{
		"/out/TTWJetsToLNu_Autumn18_sr.root",
		"/out/TTWJetsToLNu_Fall17_sr.root",
		"/out/WZTo3LNu_Autumn18_sr.root",
	}
	steps, unmatched := Plan(files, list, "/merged", "all.root")
	if len(unmatched) != 0 {
		t.Fatalf("unexpected unmatched %v", unmatched)
	}
	var outputs []string
	for _, s := range steps {
		outputs = append(outputs, s.Output)
	}
	want := []string{
		"/merged/2017/TTW.root",
		"/merged/2018/TTW.root",
		"/merged/2018/WZ.root",
		"/merged/2017/all.root",
		"/merged/2018/all.root",
		"/merged/all.root",
	}
	if strings.Join(outputs, " ") != strings.Join(want, " ") {
		t.Fatalf("outputs = %v", outputs)
	}
	last := steps[len(steps)-1]
	if len(last.Inputs) != 2 || last.Inputs[0] != "/merged/2017/all.root" {
		t.Fatalf("final step = %+v", last)
	}
	if got := steps[4].Inputs; len(got) != 2 || got[1] != "/merged/2018/WZ.root" {
		t.Fatalf("2018 step inputs = %v", got)
	}
}

func TestPlanSingleYearWithoutCombined(t *testing.T) {
	list := []samples.Sample{{Process: "TTW", Path: "TTWJetsToLNu.root"}}
	steps, _ := Plan([]string{"/out/TTWJetsToLNu_sr.root"}, list, "/merged", "")
	if len(steps) != 1 || steps[0].Output != "/merged/TTW.root" {
		t.Fatalf("steps = %+v", steps)
	}
}

func TestPlanKeepsUntaggedSamplesApart(t *testing.T) {
	list := []samples.Sample{
		{Process: "TTW", Path: "TTWJetsToLNu_Autumn18.root"},
		{Process: "WZ", Path: "WZTo3LNu.root"},
	}
	files := []string{"/out/TTWJetsToLNu_Autumn18_sr.root", "/out/WZTo3LNu_sr.root"}
	steps, _ := Plan(files, list, "/merged", "all.root")
	all := steps[len(steps)-1]
	if all.Output != "/merged/all.root" {
		t.Fatalf("final step = %+v", all)
	}
	for _, s := range steps[:len(steps)-1] {
		if s.Output == all.Output {
			t.Fatalf("step %+v writes the all-years output", s)
		}
	}
	for _, in := range all.Inputs {
		if in == all.Output {
			t.Fatalf("all-years step reads its own output: %+v", all)
		}
	}
	if len(all.Inputs) != 2 || all.Inputs[0] != "/merged/unknown/all.root" {
		t.Fatalf("unexpected all-years inputs %v", all.Inputs)
	}
	if steps[0].Output != "/merged/unknown/WZ.root" {
		t.Fatalf("untagged sample merged to %s", steps[0].Output)
	}
}

func TestRunReportsSizes(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.root")
	writeHists(t, in, map[string][]float64{"TTW_sr_tight_njets_nominal": {1, 2}})
	reports, err := Run(context.Background(), Native{}, []Step{{Output: filepath.Join(dir, "sub", "out.root"), Inputs: []string{in}}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(reports) != 1 || reports[0].Size == 0 || reports[0].Inputs != 1 {
		t.Fatalf("unexpected reports %+v", reports)
	}
	if !strings.Contains(reports[0].String(), "1 inputs") {
		t.Fatalf("unexpected report string %s", reports[0])
	}
}
