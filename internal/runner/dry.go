package runner

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

type Call struct {
	Name string
	Args []string
}

func (c Call) String() string { return JoinCommand(c.Name, c.Args) }

// Dry records commands instead of running them. Respond, when set, supplies
// the result for each call; a non-zero ExitCode is reported as a failure.
type Dry struct {
	Respond func(Call) Result

	mu    sync.Mutex
	calls []Call
}

func (d *Dry) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	call := Call{Name: name, Args: append([]string(nil), args...)}
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()

	log.Info().Str("cmd", call.String()).Msg("dry run")

	var res Result
	if d.Respond != nil {
		res = d.Respond(call)
	}
	if res.ExitCode != 0 {
		return res, failure(name, args, res)
	}
	return res, nil
}

func (d *Dry) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}
