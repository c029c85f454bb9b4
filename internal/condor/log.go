package condor

import (
	"bufio"
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/decibelcooper/cmsana/internal/anaerr"
)

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateHeld      State = "held"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateAborted   State = "aborted"
)

// Terminal reports whether the job will not change state again without a resubmission.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAborted
}

type LogStatus struct {
	State    State
	ExitCode int
}

var ErrNoEvents = errors.New("condor log has no events")

var (
	eventRE  = regexp.MustCompile(`^(\d{3}) \(\d+\.\d+\.\d+\)`)
	returnRE = regexp.MustCompile(`Normal termination \(return value (\d+)\)`)
	signalRE = regexp.MustCompile(`Abnormal termination \(signal (\d+)\)`)
)

// ParseLog reads an HTCondor user log and returns the state after the last event.
func ParseLog(path string) (LogStatus, error) {
	f, err := os.Open(path)
	if err != nil {
		return LogStatus{}, anaerr.NotFound("condor.parse_log", path, err)
	}
	defer f.Close()

	status := LogStatus{State: StateIdle}
	seen := false
	lastEvent := ""
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if m := eventRE.FindStringSubmatch(line); m != nil {
			seen = true
			lastEvent = m[1]
			switch lastEvent {
			case "000":
				status = LogStatus{State: StateIdle}
			case "001":
				status = LogStatus{State: StateRunning}
			case "009":
				status = LogStatus{State: StateAborted, ExitCode: -1}
			case "012":
				status = LogStatus{State: StateHeld}
			case "013":
				status = LogStatus{State: StateIdle}
			}
			continue
		}
		if lastEvent != "005" {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if m := returnRE.FindStringSubmatch(trimmed); m != nil {
			code, _ := strconv.Atoi(m[1])
			status = LogStatus{State: StateSucceeded, ExitCode: code}
			if code != 0 {
				status.State = StateFailed
			}
		} else if m := signalRE.FindStringSubmatch(trimmed); m != nil {
			sig, _ := strconv.Atoi(m[1])
			status = LogStatus{State: StateFailed, ExitCode: 128 + sig}
		}
	}
	if err := scanner.Err(); err != nil {
		return LogStatus{}, anaerr.Invalid("condor.parse_log", path, "%v", err)
	}
	if !seen {
		return LogStatus{}, ErrNoEvents
	}
	return status, nil
}
