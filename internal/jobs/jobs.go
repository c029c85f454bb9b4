// Package jobs turns an executable template and the sample, region and year
// lists into the concrete command lines that run the event loops.
package jobs

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/decibelcooper/cmsana/internal/runner"
	"github.com/decibelcooper/cmsana/internal/samples"
)

var placeholderRE = regexp.MustCompile(`\{([a-z_]+)\}`)

var knownPlaceholders = map[string]bool{
	"input":      true,
	"output":     true,
	"outputdir":  true,
	"process":    true,
	"sample":     true,
	"xsection":   true,
	"region":     true,
	"selection":  true,
	"year":       true,
	"variables":  true,
	"systematic": true,
}

type Template struct {
	Executable string
	Args       []string
	// Output is the output file name pattern, relative to the output directory.
	Output string
}

func (t Template) Validate() error {
	if strings.TrimSpace(t.Executable) == "" {
		return fmt.Errorf("template has no executable")
	}
	for _, word := range append(append([]string{t.Output}, t.Args...), t.Executable) {
		for _, m := range placeholderRE.FindAllStringSubmatch(word, -1) {
			if !knownPlaceholders[m[1]] {
				return fmt.Errorf("unknown placeholder {%s} in %q", m[1], word)
			}
		}
	}
	return nil
}

type Region struct {
	Name      string
	Selection string
}

type Options struct {
	OutputDir   string
	Variables   string
	Systematics []string
}

type Command struct {
	Name   string
	Argv   []string
	Output string
}

func (c Command) String() string {
	if len(c.Argv) == 0 {
		return ""
	}
	return runner.JoinCommand(c.Argv[0], c.Argv[1:])
}

// Expand builds one command per sample x region x year x systematic, in that
// loop order. A sample whose path names a year only pairs with that year (a bare
// 2016 tag pairs with both 2016 sub-periods), and a sample matching none of the
// years is skipped with a warning. Empty
// region, year or systematic lists contribute a single empty value.
func Expand(t Template, list []samples.Sample, regions []Region, years []string, opts Options) ([]Command, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if len(regions) == 0 {
		regions = []Region{{}}
	}
	if len(years) == 0 {
		years = []string{""}
	}
	systematics := opts.Systematics
	if len(systematics) == 0 {
		systematics = []string{""}
	}

	var out []Command
	for _, s := range list {
		if !inAnyYear(s, years) {
			log.Warn().Str("sample", s.ShortName()).Str("year", s.Year()).Strs("years", years).Msg("sample matches none of the requested years")
			continue
		}
		for _, region := range regions {
			for _, year := range years {
				if !s.InYear(year) {
					continue
				}
				for _, sys := range systematics {
					values := map[string]string{
						"input":      s.Path,
						"outputdir":  opts.OutputDir,
						"process":    s.Process,
						"sample":     s.ShortName(),
						"xsection":   strconv.FormatFloat(s.CrossSection, 'g', -1, 64),
						"region":     region.Name,
						"selection":  region.Selection,
						"year":       year,
						"variables":  opts.Variables,
						"systematic": sys,
					}
					output := substitute(t.Output, values)
					if output != "" && opts.OutputDir != "" && !filepath.IsAbs(output) {
						output = filepath.Join(opts.OutputDir, output)
					}
					values["output"] = output

					argv := []string{substitute(t.Executable, values)}
					for _, arg := range t.Args {
						argv = append(argv, substitute(arg, values))
					}
					out = append(out, Command{
						Name:   jobName(s.ShortName(), region.Name, year, sys),
						Argv:   argv,
						Output: output,
					})
				}
			}
		}
	}
	return out, nil
}

func inAnyYear(s samples.Sample, years []string) bool {
	for _, y := range years {
		if s.InYear(y) {
			return true
		}
	}
	return false
}

func substitute(word string, values map[string]string) string {
	return placeholderRE.ReplaceAllStringFunc(word, func(m string) string {
		return values[m[1:len(m)-1]]
	})
}

func jobName(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "_")
}

// Chunk splits commands into groups of at most size, so several short event
// loops can share one batch job. size <= 0 keeps one command per group.
func Chunk(cmds []Command, size int) [][]Command {
	if size <= 0 {
		size = 1
	}
	var out [][]Command
	for len(cmds) > 0 {
		n := size
		if n > len(cmds) {
			n = len(cmds)
		}
		out = append(out, cmds[:n])
		cmds = cmds[n:]
	}
	return out
}
