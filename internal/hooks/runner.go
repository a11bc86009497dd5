package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// maxOutput caps captured combined output per hook.
const maxOutput = 4 * 1024

// Context holds the values substituted into command templates.
type Context struct {
	JobID     string
	FromState string
	ToState   string
	Reason    string
}

// Expand splits tmpl into argv and substitutes placeholders in each argument.
// Splitting happens first so substituted values never create extra arguments.
func (c Context) Expand(tmpl string) []string {
	r := strings.NewReplacer(
		"{job_id}", c.JobID,
		"{from_state}", c.FromState,
		"{to_state}", c.ToState,
		"{reason}", c.Reason,
	)
	fields := strings.Fields(tmpl)
	for i, f := range fields {
		fields[i] = r.Replace(f)
	}
	return fields
}

// Runner executes one argv.
type Runner interface {
	Run(ctx context.Context, argv []string) (output []byte, exitCode int, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// WaitDelay bounds how long Wait blocks on child pipes after the context ends.
	WaitDelay time.Duration
}

// Run starts argv and waits for it. exitCode is -1 when the process did not exit normally.
func (r ExecRunner) Run(ctx context.Context, argv []string) ([]byte, int, error) {
	if len(argv) == 0 {
		return nil, -1, fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var buf limitedBuffer
	buf.limit = maxOutput
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = time.Second
	}

	err := cmd.Run()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		err = fmt.Errorf("exit status %d", code)
	}
	return buf.Bytes(), code, err
}

// limitedBuffer keeps the first limit bytes and discards the rest.
type limitedBuffer struct {
	bytes.Buffer
	limit     int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.Buffer.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.truncated = true
		b.Buffer.Write(p[:room])
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

func truncate(out []byte) string {
	if len(out) > maxOutput {
		out = out[:maxOutput]
	}
	return strings.TrimSpace(string(out))
}
