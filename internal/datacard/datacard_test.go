package datacard

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/hist"
	"github.com/decibelcooper/cmsana/internal/runner"
)

func filled(name string, contents ...float64) *hist.Hist1D {
	h := hist.NewUniform(name, len(contents), 0, float64(len(contents)))
	for i, c := range contents {
		h.Fill(float64(i)+0.5, c)
	}
	return h
}

// cardLines returns the whitespace-separated fields of every line starting with key.
func cardLines(text, key string) [][]string {
	var out [][]string
	for _, l := range strings.Split(text, "\n") {
		f := strings.Fields(l)
		if len(f) > 0 && f[0] == key {
			out = append(out, f)
		}
	}
	return out
}

func sampleCard() Card {
	return Card{
		Channel:     "sr_njets_2018",
		Observation: 42,
		Processes: []Process{
			{Name: "TTW", Signal: true, Rate: 10.5},
			{Name: "WZ", Rate: 20},
			{Name: "TTZ", Rate: 7.25},
		},
		Systematics: []Systematic{
			{Name: "lumi", Type: LnN, Values: map[string]string{"TTW": "1.016", "WZ": "1.016", "TTZ": "1.016"}},
			{Name: "jec", Type: Shape, Values: map[string]string{"TTW": "1", "TTZ": "1"}},
		},
		ShapesFile:        "shapes_sr_njets_2018.root",
		NominalPattern:    DefaultNominalPattern,
		SystematicPattern: DefaultSystematicPattern,
		AutoMCStats:       10,
		RateParams:        []RateParam{{Name: "r_WZ", Process: "WZ", Value: 1, Min: 0, Max: 5}},
	}
}

func TestWriteCard(t *testing.T) {
	var buf bytes.Buffer
	if err := sampleCard().Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	text := buf.String()

	if !strings.HasPrefix(text, "imax 1") {
		t.Fatalf("card does not start with imax:\n%s", text)
	}
	if jmax := cardLines(text, "jmax"); len(jmax) != 1 || jmax[0][1] != "2" {
		t.Fatalf("jmax = %v", jmax)
	}
	shapes := cardLines(text, "shapes")
	want := []string{"shapes", "*", "*", "shapes_sr_njets_2018.root", "$PROCESS_$CHANNEL", "$PROCESS_$CHANNEL_$SYSTEMATIC"}
	if len(shapes) != 1 || strings.Join(shapes[0], " ") != strings.Join(want, " ") {
		t.Fatalf("shapes line = %v", shapes)
	}
	if obs := cardLines(text, "observation"); len(obs) != 1 || obs[0][1] != "42" {
		t.Fatalf("observation = %v", obs)
	}

	procs := cardLines(text, "process")
	if len(procs) != 2 {
		t.Fatalf("process rows = %v", procs)
	}
	if got := strings.Join(procs[0][1:], " "); got != "TTW WZ TTZ" {
		t.Fatalf("process names = %q", got)
	}
	if got := strings.Join(procs[1][1:], " "); got != "0 1 2" {
		t.Fatalf("process indices = %q", got)
	}
	if rate := cardLines(text, "rate"); strings.Join(rate[0][1:], " ") != "10.5 20 7.25" {
		t.Fatalf("rates = %v", rate)
	}
	if jec := cardLines(text, "jec"); len(jec) != 1 || strings.Join(jec[0][1:], " ") != "shape 1 - 1" {
		t.Fatalf("jec row = %v", jec)
	}
	if !strings.Contains(text, "sr_njets_2018 autoMCStats 10\n") {
		t.Fatalf("missing autoMCStats:\n%s", text)
	}
	if !strings.Contains(text, "r_WZ rateParam sr_njets_2018 WZ 1 [0,5]\n") {
		t.Fatalf("missing rateParam:\n%s", text)
	}
}

func TestIndicesSeveralSignals(t *testing.T) {
	c := Card{Processes: []Process{{Name: "a", Signal: true}, {Name: "b"}, {Name: "c", Signal: true}, {Name: "d"}}}
	got := c.Indices()
	want := []int{0, 1, -1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("indices = %v, want %v", got, want)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Card){
		"no signal":        func(c *Card) { c.Processes[0].Signal = false },
		"duplicate":        func(c *Card) { c.Processes[2].Name = "WZ" },
		"unknown process":  func(c *Card) { c.Systematics[0].Values["ZZ"] = "1.1" },
		"bad type":         func(c *Card) { c.Systematics[0].Type = "gmN" },
		"shape, no file":   func(c *Card) { c.ShapesFile = "" },
		"space in channel": func(c *Card) { c.Channel = "sr 2018" },
		"rateparam":        func(c *Card) { c.RateParams[0].Process = "ZZ" },
	}
	for name, mutate := range cases {
		c := sampleCard()
		mutate(&c)
		if err := c.Validate(); !anaerr.IsKind(err, anaerr.KindInvalidInput) {
			t.Fatalf("%s: err = %v", name, err)
		}
	}
}

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join("testdata", "systematics.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cat.Entries) != 4 {
		t.Fatalf("entries = %d", len(cat.Entries))
	}
	if cat.Entries[1].Values["WZ"] != "0.9/1.1" {
		t.Fatalf("asymmetric value = %q", cat.Entries[1].Values["WZ"])
	}
	if cat.Entries[2].Type != LnN {
		t.Fatalf("default type = %q", cat.Entries[2].Type)
	}
	if len(cat.RateParams) != 1 || cat.RateParams[0].Value != 1 || cat.RateParams[0].Max != 5 {
		t.Fatalf("rateparams = %+v", cat.RateParams)
	}
	if !cat.Ignored("pdf") || cat.Ignored("jec") {
		t.Fatal("ignore_shapes not applied")
	}
}

func TestLoadCatalogErrors(t *testing.T) {
	_, err := LoadCatalog(filepath.Join("testdata", "bad_type.yaml"))
	if !anaerr.IsKind(err, anaerr.KindInvalidInput) {
		t.Fatalf("shape type in catalog: err = %v", err)
	}
	_, err = LoadCatalog(filepath.Join("testdata", "missing.yaml"))
	if !anaerr.IsKind(err, anaerr.KindNotFound) {
		t.Fatalf("missing catalog: err = %v", err)
	}
}

func TestCatalogApply(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join("testdata", "systematics.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	procs := []Process{{Name: "TTW", Signal: true}, {Name: "WZ"}}

	got := cat.Apply(procs, "2017", "sr")
	names := make(map[string]Systematic)
	for _, s := range got {
		names[s.Name] = s
	}
	if _, ok := names["trigger_2018"]; ok {
		t.Fatal("2018-only entry applied to 2017")
	}
	if _, ok := names["norm_ZZ"]; ok {
		t.Fatal("entry for an absent process kept")
	}
	lumi := names["lumi"]
	if lumi.Values["TTW"] != "1.016" || lumi.Values["WZ"] != "1.016" {
		t.Fatalf("lumi = %+v", lumi)
	}
	if x := names["xsec_WZ"]; len(x.Values) != 1 || x.Values["WZ"] != "0.9/1.1" {
		t.Fatalf("xsec_WZ = %+v", x)
	}

	got = cat.Apply(procs, "2018", "sr")
	if len(got) != 3 {
		t.Fatalf("2018 systematics = %+v", got)
	}
}

func buildInputs() []*hist.Hist1D {
	return []*hist.Hist1D{
		filled("TTW_sr_tight_njets_nominal", 3, 4),
		filled("TTW_sr_tight_njets_jecUp", 3.3, 4.4),
		filled("TTW_sr_tight_njets_jecDown", 2.7, 3.6),
		filled("TTW_sr_tight_njets_pdfUp", 3.1, 4.1),
		filled("TTW_sr_tight_njets_pdfDown", 2.9, 3.9),
		filled("WZ_sr_tight_njets_nominal", 10, -1),
		filled("WZ_sr_tight_njets_puUp", 11, 1),
		filled("WZ_sr_tight_mll_nominal", 100, 100),
		filled("data_sr_tight_njets_nominal", 14, 5),
	}
}

func TestBuild(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join("testdata", "systematics.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	card, shapes, err := Build(buildInputs(), BuildOptions{
		Region: "sr", SelectionType: "tight", Variable: "njets", Year: "2018",
		Signals:      []string{"TTW"},
		Backgrounds:  []string{"WZ", "ZZ"},
		ClipNegative: true,
		Catalog:      cat,
		AutoMCStats:  10,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if card.Channel != "sr_njets_2018" {
		t.Fatalf("channel = %q", card.Channel)
	}
	// ZZ has no histograms and is left out.
	if len(card.Processes) != 2 || card.Processes[0].Name != "TTW" || !card.Processes[0].Signal {
		t.Fatalf("processes = %+v", card.Processes)
	}
	if card.Processes[0].Rate != 7 || card.Processes[1].Rate != 10 {
		t.Fatalf("rates = %+v", card.Processes)
	}
	if card.Observation != 19 {
		t.Fatalf("observation = %v", card.Observation)
	}

	var shapeSysts []string
	for _, s := range card.Systematics {
		if s.Type == Shape {
			shapeSysts = append(shapeSysts, s.Name)
		}
	}
	// pdf is ignored by the catalog, pu has no down variation.
	if strings.Join(shapeSysts, ",") != "jec" {
		t.Fatalf("shape systematics = %v", shapeSysts)
	}
	if card.Systematics[len(card.Systematics)-1].Type != Shape {
		t.Fatal("shape systematics not listed last")
	}
	if len(card.RateParams) != 1 {
		t.Fatalf("rateparams = %+v", card.RateParams)
	}

	names := make(map[string]bool)
	for _, h := range shapes {
		names[h.Name] = true
	}
	for _, want := range []string{
		"TTW_sr_njets_2018", "WZ_sr_njets_2018", "data_obs_sr_njets_2018",
		"TTW_sr_njets_2018_jecUp", "TTW_sr_njets_2018_jecDown",
	} {
		if !names[want] {
			t.Fatalf("shapes missing %s: %v", want, names)
		}
	}
	if len(shapes) != 5 {
		t.Fatalf("got %d shapes", len(shapes))
	}
}

func TestBuildAsimov(t *testing.T) {
	inputs := buildInputs()[:6]
	card, shapes, err := Build(inputs, BuildOptions{
		Region: "sr", SelectionType: "tight", Variable: "njets",
		Signals:     []string{"TTW"},
		Backgrounds: []string{"WZ"},
		Asimov:      true,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if card.Observation != 16 {
		t.Fatalf("asimov observation = %v, want 16", card.Observation)
	}
	if card.Channel != "sr_njets" {
		t.Fatalf("channel = %q", card.Channel)
	}
	if shapes[len(shapes)-1].Name != "data_obs_sr_njets" {
		t.Fatalf("last shape = %s", shapes[len(shapes)-1].Name)
	}
}

func TestBuildMissingData(t *testing.T) {
	_, _, err := Build(buildInputs()[:6], BuildOptions{
		Region: "sr", SelectionType: "tight", Variable: "njets",
		Signals:     []string{"TTW"},
		Backgrounds: []string{"WZ"},
	})
	if !anaerr.IsKind(err, anaerr.KindNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestBuildNoSignal(t *testing.T) {
	_, _, err := Build(buildInputs(), BuildOptions{
		Region: "sr", SelectionType: "tight", Variable: "njets",
		Signals:     []string{"TTH"},
		Backgrounds: []string{"WZ"},
	})
	if !anaerr.IsKind(err, anaerr.KindNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestSweepAndCombine(t *testing.T) {
	dir := t.TempDir()
	for _, year := range []string{"2017", "2018"} {
		if err := hist.WriteFile(filepath.Join(dir, "merged_"+year+".root"), buildInputs()); err != nil {
			t.Fatalf("write input: %v", err)
		}
	}
	out := filepath.Join(dir, "cards")
	written, err := Sweep(SweepOptions{
		Template: BuildOptions{
			SelectionType: "tight",
			Signals:       []string{"TTW"},
			Backgrounds:   []string{"WZ"},
			AutoMCStats:   -1,
		},
		Input:     filepath.Join(dir, "merged_{year}.root"),
		OutputDir: out,
		Variables: []string{"njets", "mll"},
		Regions:   []string{"sr"},
		Years:     []string{"2017", "2018"},
	})
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	// mll has no TTW nor data histogram and is skipped.
	if len(written) != 2 {
		t.Fatalf("written = %+v", written)
	}
	for _, w := range written {
		text, err := os.ReadFile(w.Card)
		if err != nil {
			t.Fatalf("read card: %v", err)
		}
		if strings.Contains(string(text), "autoMCStats") {
			t.Fatal("autoMCStats written although disabled")
		}
		if sh := cardLines(string(text), "shapes"); len(sh) != 1 || sh[0][3] != filepath.Base(w.Shapes) {
			t.Fatalf("shapes line = %v", sh)
		}
		if _, err := hist.ReadOne(w.Shapes, "data_obs_"+w.Channel); err != nil {
			t.Fatalf("shapes file: %v", err)
		}
	}

	dry := &runner.Dry{Respond: func(runner.Call) runner.Result {
		return runner.Result{Stdout: []byte("imax 2 number of channels\n")}
	}}
	combined := filepath.Join(out, "combined.txt")
	if err := CombineCards(context.Background(), dry, written, combined); err != nil {
		t.Fatalf("combine: %v", err)
	}
	calls := dry.Calls()
	if len(calls) != 1 || calls[0].Name != "combineCards.py" {
		t.Fatalf("calls = %v", calls)
	}
	if calls[0].Args[0] != "sr_njets_2017="+written[0].Card {
		t.Fatalf("args = %v", calls[0].Args)
	}
	got, err := os.ReadFile(combined)
	if err != nil || !strings.HasPrefix(string(got), "imax 2") {
		t.Fatalf("combined card = %q, %v", got, err)
	}
}

func TestSweepNeedsYearPlaceholder(t *testing.T) {
	_, err := Sweep(SweepOptions{
		Input:     "merged.root",
		Variables: []string{"njets"},
		Regions:   []string{"sr"},
		Years:     []string{"2017", "2018"},
	})
	if !anaerr.IsKind(err, anaerr.KindInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}
