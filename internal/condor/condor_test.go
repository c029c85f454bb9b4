package condor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/decibelcooper/cmsana/internal/jobs"
	"github.com/decibelcooper/cmsana/internal/runner"
)

func TestPrepareWritesScriptAndSubmitFile(t *testing.T) {
	dir := t.TempDir()
	job := Job{
		Name:     "TTW_sr_2018",
		Commands: []string{"./runanalysis in.root out.root", "echo done"},
		Env:      map[string]string{"OMP_NUM_THREADS": "1"},
	}
	settings := Settings{
		CMSSW:      "/user/ana/CMSSW_10_6_29",
		Proxy:      "/user/ana/x509up",
		CPUs:       2,
		Memory:     "4GB",
		MaxRuntime: 3 * time.Hour,
	}
	files, err := Prepare(dir, job, settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	script, err := os.ReadFile(files.Script)
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	s := string(script)
	for _, want := range []string{
		"set -e",
		"cd /user/ana/CMSSW_10_6_29/src",
		`eval "$(scram runtime -sh)"`,
		"export X509_USER_PROXY=/user/ana/x509up",
		"export OMP_NUM_THREADS=1",
		"cd " + dir,
		"./runanalysis in.root out.root\necho done\n",
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("script missing %q:\n%s", want, s)
		}
	}
	info, err := os.Stat(files.Script)
	if err != nil || info.Mode().Perm()&0o100 == 0 {
		t.Fatalf("expected executable script")
	}

	sub, err := os.ReadFile(files.Submit)
	if err != nil {
		t.Fatalf("read submit: %v", err)
	}
	for _, want := range []string{
		"executable = " + filepath.Join(dir, "TTW_sr_2018.sh"),
		"log = " + filepath.Join(dir, "TTW_sr_2018.log"),
		"request_cpus = 2",
		"request_memory = 4GB",
		"+MaxRuntime = 10800",
		"x509userproxy = /user/ana/x509up",
		"queue",
	} {
		if !strings.Contains(string(sub), want) {
			t.Fatalf("submit file missing %q:\n%s", want, sub)
		}
	}
	if strings.Contains(string(sub), "JobFlavour") {
		t.Fatalf("max runtime should replace the job flavour")
	}
}

func TestPrepareFlavourAndValidation(t *testing.T) {
	dir := t.TempDir()
	files, err := Prepare(dir, Job{Name: "j", Commands: []string{"true"}}, Settings{Flavour: "longlunch"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub, _ := os.ReadFile(files.Submit)
	if !strings.Contains(string(sub), `+JobFlavour = "longlunch"`) || !strings.Contains(string(sub), "request_cpus = 1") {
		t.Fatalf("unexpected submit file:\n%s", sub)
	}
	if _, err := Prepare(dir, Job{Name: "empty"}, Settings{}); err == nil {
		t.Fatalf("expected error for job without commands")
	}
}

func TestSubmitParsesCluster(t *testing.T) {
	d := &runner.Dry{Respond: func(runner.Call) runner.Result {
		return runner.Result{Stdout: []byte("Submitting job(s).\n1 job(s) submitted to cluster 1234567.\n")}
	}}
	id, err := Submit(context.Background(), d, "/tmp/job.sub", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 1234567 {
		t.Fatalf("expected cluster 1234567, got %d", id)
	}
	if calls := d.Calls(); len(calls) != 1 || calls[0].String() != "condor_submit /tmp/job.sub" {
		t.Fatalf("unexpected calls %v", calls)
	}
	if _, err := Submit(context.Background(), d, "/tmp/job.sub", "bigbird15.cern.ch"); err != nil {
		t.Fatalf("submit with schedd: %v", err)
	}
	if calls := d.Calls(); calls[1].String() != "condor_submit -name bigbird15.cern.ch /tmp/job.sub" {
		t.Fatalf("unexpected schedd call %v", calls[1])
	}
	if _, err := ParseClusterID("ERROR: proxy expired"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestParseLog(t *testing.T) {
	cases := []struct {
		file  string
		state State
		code  int
	}{
		{"success.log", StateSucceeded, 0},
		{"failed.log", StateFailed, 1},
		{"killed.log", StateFailed, 137},
		{"running.log", StateRunning, 0},
		{"aborted.log", StateAborted, -1},
	}
	for _, c := range cases {
		status, err := ParseLog(filepath.Join("testdata", c.file))
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.file, err)
		}
		if status.State != c.state || status.ExitCode != c.code {
			t.Fatalf("%s: want %s/%d, got %s/%d", c.file, c.state, c.code, status.State, status.ExitCode)
		}
	}
	if !StateAborted.Terminal() || StateHeld.Terminal() {
		t.Fatalf("unexpected terminal classification")
	}
}

func TestParseLogEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ParseLog(path); !errors.Is(err, ErrNoEvents) {
		t.Fatalf("expected ErrNoEvents, got %v", err)
	}
}

func TestRunLocalSerialOrder(t *testing.T) {
	d := &runner.Dry{}
	cmds := []jobs.Command{
		{Name: "a", Argv: []string{"./fill", "a.root"}},
		{Name: "b", Argv: []string{"./fill", "b.root"}},
		{Name: "c", Argv: []string{"./fill", "c.root"}},
	}
	report, err := RunLocal(context.Background(), d, cmds, 1, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Ran() != 3 || len(report.Failed()) != 0 {
		t.Fatalf("expected 3 clean runs, got %+v", report.Outcomes)
	}
	calls := d.Calls()
	for i, want := range []string{"a.root", "b.root", "c.root"} {
		if calls[i].Args[0] != want {
			t.Fatalf("call %d: want %s, got %v", i, want, calls[i])
		}
	}
}

func TestRunLocalStopsOrKeepsGoing(t *testing.T) {
	failB := func(c runner.Call) runner.Result {
		if c.Args[0] == "b.root" {
			return runner.Result{ExitCode: 1}
		}
		return runner.Result{}
	}
	cmds := []jobs.Command{
		{Name: "a", Argv: []string{"./fill", "a.root"}},
		{Name: "b", Argv: []string{"./fill", "b.root"}},
		{Name: "c", Argv: []string{"./fill", "c.root"}},
	}

	d := &runner.Dry{Respond: failB}
	report, err := RunLocal(context.Background(), d, cmds, 1, false)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if n := len(d.Calls()); n != 2 {
		t.Fatalf("expected to stop after b, ran %d", n)
	}
	if report.Ran() != 2 || report.Outcomes[1].Command.Name != "b" || report.Outcomes[1].Err == nil {
		t.Fatalf("the failing command must be reported: %+v", report.Outcomes)
	}

	d = &runner.Dry{Respond: failB}
	report, err = RunLocal(context.Background(), d, cmds, 2, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if failed := report.Failed(); report.Ran() != 3 || len(failed) != 1 || failed[0].Name != "b" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunLocalExitCodes(t *testing.T) {
	d := &runner.Dry{Respond: func(c runner.Call) runner.Result {
		if c.Args[0] == "b.root" {
			return runner.Result{ExitCode: 3}
		}
		return runner.Result{}
	}}
	cmds := []jobs.Command{
		{Name: "a", Argv: []string{"./fill", "a.root"}},
		{Name: "b", Argv: []string{"./fill", "b.root"}},
	}
	report, _ := RunLocal(context.Background(), d, cmds, 1, false)
	if len(report.Outcomes) != 2 {
		t.Fatalf("unexpected outcomes %+v", report.Outcomes)
	}
	if report.Outcomes[0].ExitCode != 0 || report.Outcomes[1].ExitCode != 3 {
		t.Fatalf("unexpected exit codes %d %d", report.Outcomes[0].ExitCode, report.Outcomes[1].ExitCode)
	}
}
