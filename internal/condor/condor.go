// Package condor writes HTCondor job scripts and submit descriptions, submits
// them, and reads back the outcome from the job user logs.
package condor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/decibelcooper/cmsana/internal/anaerr"
	"github.com/decibelcooper/cmsana/internal/runner"
)

type Settings struct {
	CMSSW      string
	Proxy      string
	Flavour    string
	CPUs       int
	Memory     string
	MaxRuntime time.Duration
	// WorkDir is where the commands run on the worker; defaults to the submit directory.
	WorkDir string
}

type Job struct {
	Name     string
	Commands []string
	Env      map[string]string
}

// Files are the paths belonging to one prepared job.
type Files struct {
	Script string
	Submit string
	Output string
	Error  string
	Log    string
}

func FilesFor(dir, name string) Files {
	base := filepath.Join(dir, name)
	return Files{
		Script: base + ".sh",
		Submit: base + ".sub",
		Output: base + ".out",
		Error:  base + ".err",
		Log:    base + ".log",
	}
}

// Prepare writes the job script and submit description for job into dir.
func Prepare(dir string, job Job, settings Settings) (Files, error) {
	if strings.TrimSpace(job.Name) == "" {
		return Files{}, anaerr.Invalid("condor.prepare", dir, "job has no name")
	}
	if len(job.Commands) == 0 {
		return Files{}, anaerr.Invalid("condor.prepare", dir, "job %q has no commands", job.Name)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Files{}, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return Files{}, err
	}
	files := FilesFor(abs, job.Name)
	if settings.WorkDir == "" {
		settings.WorkDir = abs
	}
	if err := WriteScript(files.Script, job, settings); err != nil {
		return Files{}, err
	}
	if err := WriteSubmitFile(files, settings); err != nil {
		return Files{}, err
	}
	return files, nil
}

func WriteScript(path string, job Job, settings Settings) error {
	var b strings.Builder
	b.WriteString("#!/usr/bin/env bash\n")
	b.WriteString("set -e\n")
	if settings.CMSSW != "" {
		b.WriteString("source /cvmfs/cms.cern.ch/cmsset_default.sh\n")
		fmt.Fprintf(&b, "cd %s\n", runner.ShellEscape(filepath.Join(settings.CMSSW, "src")))
		b.WriteString("eval \"$(scram runtime -sh)\"\n")
	}
	if settings.Proxy != "" {
		fmt.Fprintf(&b, "export X509_USER_PROXY=%s\n", runner.ShellEscape(settings.Proxy))
	}
	for _, k := range sortedKeys(job.Env) {
		fmt.Fprintf(&b, "export %s=%s\n", k, runner.ShellEscape(job.Env[k]))
	}
	if settings.WorkDir != "" {
		fmt.Fprintf(&b, "cd %s\n", runner.ShellEscape(settings.WorkDir))
	}
	for _, cmd := range job.Commands {
		b.WriteString(cmd)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o755)
}

func WriteSubmitFile(files Files, settings Settings) error {
	var b strings.Builder
	fmt.Fprintf(&b, "executable = %s\n", files.Script)
	b.WriteString("universe = vanilla\n")
	fmt.Fprintf(&b, "output = %s\n", files.Output)
	fmt.Fprintf(&b, "error = %s\n", files.Error)
	fmt.Fprintf(&b, "log = %s\n", files.Log)
	cpus := settings.CPUs
	if cpus <= 0 {
		cpus = 1
	}
	fmt.Fprintf(&b, "request_cpus = %d\n", cpus)
	if settings.Memory != "" {
		fmt.Fprintf(&b, "request_memory = %s\n", settings.Memory)
	}
	if settings.MaxRuntime > 0 {
		fmt.Fprintf(&b, "+MaxRuntime = %d\n", int64(settings.MaxRuntime/time.Second))
	} else if settings.Flavour != "" {
		fmt.Fprintf(&b, "+JobFlavour = %q\n", settings.Flavour)
	}
	if settings.Proxy != "" {
		fmt.Fprintf(&b, "x509userproxy = %s\n", settings.Proxy)
		b.WriteString("use_x509userproxy = true\n")
	}
	b.WriteString("queue\n")
	return os.WriteFile(files.Submit, []byte(b.String()), 0o644)
}

var submittedRE = regexp.MustCompile(`(\d+) job\(s\) submitted to cluster (\d+)\.`)

// Submit hands a submit file to condor_submit and returns the cluster ID.
// A non-empty schedd selects the scheduler to queue on.
func Submit(ctx context.Context, r runner.Runner, submitFile, schedd string) (int64, error) {
	args := []string{submitFile}
	if schedd != "" {
		args = []string{"-name", schedd, submitFile}
	}
	res, err := r.Run(ctx, "condor_submit", args...)
	if err != nil {
		return 0, err
	}
	return ParseClusterID(string(res.Stdout))
}

func ParseClusterID(out string) (int64, error) {
	m := submittedRE.FindStringSubmatch(out)
	if m == nil {
		return 0, anaerr.Invalid("condor.submit", "", "no cluster id in condor_submit output %q", strings.TrimSpace(out))
	}
	return strconv.ParseInt(m[2], 10, 64)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
