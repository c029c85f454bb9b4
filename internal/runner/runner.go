// Package runner executes the external programs the tools orchestrate: ROOT's
// hadd, condor_submit, combine, and the analysis executables themselves.
package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/decibelcooper/cmsana/internal/anaerr"
)

const outputTail = 2048

type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner runs one command to completion. A non-zero exit status is returned
// as an error wrapping *anaerr.ExitError, together with the captured Result.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// JoinCommand renders argv as one shell line with every word single-quoted
// where needed.
func JoinCommand(name string, args []string) string {
	var builder strings.Builder
	builder.WriteString(ShellEscape(name))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(ShellEscape(arg))
	}
	return builder.String()
}

func ShellEscape(value string) string {
	if value == "" {
		return "''"
	}
	if strings.IndexFunc(value, needsQuote) < 0 {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./=:,+@%", r)
}

type Local struct {
	Dir string
	Env []string
}

func (l Local) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = l.Dir
	if len(l.Env) > 0 {
		cmd.Env = append(cmd.Environ(), l.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = 1
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			res.ExitCode = 127
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	return res, failure(name, args, res)
}

func failure(name string, args []string, res Result) error {
	return anaerr.Execution("runner.run", &anaerr.ExitError{
		Command:  JoinCommand(name, args),
		ExitCode: res.ExitCode,
		Output:   tail(res),
	})
}

func tail(res Result) string {
	out := strings.TrimSpace(string(res.Stderr))
	if out == "" {
		out = strings.TrimSpace(string(res.Stdout))
	}
	if len(out) > outputTail {
		out = "..." + out[len(out)-outputTail:]
	}
	return out
}

// ExitCode extracts the subprocess exit status from an error returned by a Runner.
func ExitCode(err error) (int, bool) {
	var exitErr *anaerr.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode, true
	}
	return 0, false
}
