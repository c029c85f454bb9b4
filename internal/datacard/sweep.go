package datacard

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/hist"
	"github.com/decibelcooper/cmsana/internal/histname"
	"github.com/decibelcooper/cmsana/internal/runner"
)

// YearPlaceholder in SweepOptions.Input is replaced by each year in turn.
const YearPlaceholder = "{year}"

type SweepOptions struct {
	// Template supplies processes, catalog and patterns; its region, variable,
	// year and channel are set per combination.
	Template BuildOptions
	// Input is the merged histogram file, per year when it contains YearPlaceholder.
	Input     string
	OutputDir string
	Variables []string
	Regions   []string
	Years     []string
}

// Written locates one card and its shapes file.
type Written struct {
	Channel string
	Card    string
	Shapes  string
}

// Sweep writes one card and shapes file per variable, region and year. A
// combination whose histograms are missing is skipped with a warning.
func Sweep(opts SweepOptions) ([]Written, error) {
	const op = "datacard.sweep"
	if len(opts.Variables) == 0 || len(opts.Regions) == 0 {
		return nil, anaerr.Invalid(op, opts.Input, "need at least one variable and one region")
	}
	years := opts.Years
	if len(years) == 0 {
		years = []string{""}
	}
	if len(opts.Years) > 1 && !strings.Contains(opts.Input, YearPlaceholder) {
		return nil, anaerr.Invalid(op, opts.Input, "several years need %s in the input path", YearPlaceholder)
	}

	var out []Written
	for _, year := range years {
		input := strings.ReplaceAll(opts.Input, YearPlaceholder, year)
		hists, err := hist.ReadFile(input, histname.Selector{})
		if err != nil {
			return out, err
		}
		for _, region := range opts.Regions {
			for _, variable := range opts.Variables {
				b := opts.Template
				b.Region, b.Variable, b.Year, b.Channel = region, variable, year, ""
				w, err := writeOne(hists, b, opts.OutputDir)
				if anaerr.IsKind(err, anaerr.KindNotFound) {
					log.Warn().Err(err).Str("region", region).Str("variable", variable).Str("year", year).Msg("skipping datacard")
					continue
				}
				if err != nil {
					return out, err
				}
				out = append(out, w)
			}
		}
	}
	return out, nil
}

// Make builds one card from a histogram file and writes it with its shapes
// file into dir.
func Make(input string, opts BuildOptions, dir string) (Written, error) {
	hists, err := hist.ReadFile(input, histname.Selector{})
	if err != nil {
		return Written{}, err
	}
	return writeOne(hists, opts, dir)
}

func writeOne(hists []*hist.Hist1D, opts BuildOptions, dir string) (Written, error) {
	card, shapes, err := Build(hists, opts)
	if err != nil {
		return Written{}, err
	}
	w := Written{
		Channel: card.Channel,
		Card:    filepath.Join(dir, "datacard_"+card.Channel+".txt"),
		Shapes:  filepath.Join(dir, "shapes_"+card.Channel+".root"),
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Written{}, fmt.Errorf("datacard: %w", err)
	}
	if err := hist.WriteFile(w.Shapes, shapes); err != nil {
		return Written{}, err
	}
	// Card and shapes share a directory.
	card.ShapesFile = filepath.Base(w.Shapes)
	if err := card.WriteFile(w.Card); err != nil {
		return Written{}, err
	}
	log.Info().Str("card", w.Card).Int("processes", len(card.Processes)).Int("systematics", len(card.Systematics)).Msg("datacard written")
	log.Debug().Str("card", w.Card).Strs("systematics", card.SystematicNames()).Msg("nuisances")
	return w, nil
}

// CombineCards merges cards into one through combineCards.py, naming each
// channel after its Written.Channel, and writes the result to output.
func CombineCards(ctx context.Context, r runner.Runner, cards []Written, output string) error {
	const op = "datacard.combine"
	if len(cards) == 0 {
		return anaerr.Invalid(op, output, "no cards to combine")
	}
	args := make([]string, 0, len(cards))
	for _, c := range cards {
		if _, err := os.Stat(c.Card); err != nil {
			return anaerr.NotFound(op, c.Card, err)
		}
		args = append(args, c.Channel+"="+c.Card)
	}
	res, err := r.Run(ctx, "combineCards.py", args...)
	if err != nil {
		return fmt.Errorf("combineCards.py %s: %w", output, err)
	}
	if len(res.Stdout) == 0 {
		return anaerr.Invalid(op, output, "combineCards.py produced no output")
	}
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("datacard: %w", err)
	}
	if err := os.WriteFile(output, res.Stdout, 0o644); err != nil {
		return fmt.Errorf("datacard: %w", err)
	}
	return nil
}
