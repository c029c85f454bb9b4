// Package samples reads sample lists: text manifests with one
// "process_name sample_path cross_section [version]" entry per line.
package samples

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/decibelcooper/cmsana/internal/anaerr"
)

type Sample struct {
	Process      string
	Path         string
	CrossSection float64
	Version      string
}

// ShortName is the sample file name without directory and .root suffix.
func (s Sample) ShortName() string {
	return strings.TrimSuffix(filepath.Base(s.Path), ".root")
}

// FileName is the sample file name as produced by the skimming step.
func (s Sample) FileName() string {
	name := filepath.Base(s.Path)
	if !strings.HasSuffix(name, ".root") {
		name += ".root"
	}
	return name
}

var yearTags = []struct {
	tag  string
	year string
}{
	{"2016PreVFP", "2016PreVFP"},
	{"2016PostVFP", "2016PostVFP"},
	{"Summer20UL16APV", "2016PreVFP"},
	{"Summer20UL16", "2016PostVFP"},
	{"Summer16", "2016"},
	{"Run2016", "2016"},
	{"Summer20UL17", "2017"},
	{"Fall17", "2017"},
	{"Run2017", "2017"},
	{"Summer20UL18", "2018"},
	{"Autumn18", "2018"},
	{"Run2018", "2018"},
}

// Year derives the data-taking period from campaign tags in the sample path.
// It returns "" when no tag is recognised.
func (s Sample) Year() string {
	for _, yt := range yearTags {
		if strings.Contains(s.Path, yt.tag) {
			return yt.year
		}
	}
	return ""
}

// InYear reports whether the sample belongs to the given period. Untagged
// samples and an empty period match everything, and a coarse "2016" tag matches
// both the 2016PreVFP and 2016PostVFP sub-periods.
func (s Sample) InYear(year string) bool {
	sy := s.Year()
	if sy == "" || year == "" || sy == year {
		return true
	}
	return sy == "2016" && strings.HasPrefix(year, sy)
}

// IsData reports whether the sample is collision data rather than simulation.
func (s Sample) IsData() bool {
	return s.Process == "data" || strings.HasPrefix(s.Process, "data_") || strings.Contains(s.Path, "/Run20")
}

func Read(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, anaerr.NotFound("samples.read", path, err)
	}
	defer f.Close()

	var out []Sample
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sample, err := parseLine(line)
		if err != nil {
			return nil, anaerr.Invalid("samples.read", path, "line %d: %v", lineNum, err)
		}
		out = append(out, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, anaerr.Invalid("samples.read", path, "%v", err)
	}
	return out, nil
}

func parseLine(line string) (Sample, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 || len(fields) > 4 {
		return Sample{}, fmt.Errorf("expected 3 or 4 columns, got %d", len(fields))
	}
	xsec, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("bad cross section %q", fields[2])
	}
	sample := Sample{
		Process:      fields[0],
		Path:         fields[1],
		CrossSection: xsec,
	}
	if len(fields) == 4 {
		sample.Version = fields[3]
	}
	return sample, nil
}

// ReadAll concatenates several sample lists in order. With unique set, a sample
// path seen before is dropped.
func ReadAll(paths []string, unique bool) ([]Sample, error) {
	var out []Sample
	seen := make(map[string]bool)
	for _, path := range paths {
		list, err := Read(path)
		if err != nil {
			return nil, err
		}
		for _, s := range list {
			if unique {
				if seen[s.Path] {
					continue
				}
				seen[s.Path] = true
			}
			out = append(out, s)
		}
	}
	return out, nil
}

func Processes(list []Sample) []string {
	var out []string
	seen := make(map[string]bool)
	for _, s := range list {
		if seen[s.Process] {
			continue
		}
		seen[s.Process] = true
		out = append(out, s.Process)
	}
	return out
}

func ByProcess(list []Sample) map[string][]Sample {
	out := make(map[string][]Sample)
	for _, s := range list {
		out[s.Process] = append(out[s.Process], s)
	}
	return out
}

// Resolve points every sample at its file inside dir. A missing file is an error.
func Resolve(dir string, list []Sample) ([]Sample, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, anaerr.NotFound("samples.resolve", dir, err)
	}
	if !info.IsDir() {
		return nil, anaerr.Invalid("samples.resolve", dir, "not a directory")
	}

	out := make([]Sample, 0, len(list))
	for _, s := range list {
		path := filepath.Join(dir, s.FileName())
		if _, err := os.Stat(path); err != nil {
			return nil, anaerr.NotFound("samples.resolve", path, err)
		}
		s.Path = path
		out = append(out, s)
	}
	return out, nil
}
