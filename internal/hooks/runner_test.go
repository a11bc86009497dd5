package hooks

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextExpand(t *testing.T) {
	hc := Context{JobID: "job-7", FromState: "READY", ToState: "PLOTTING", Reason: "operator start"}
	argv := hc.Expand("notify  --job={job_id}   {from_state}->{to_state} {reason}")
	assert.Equal(t, []string{"notify", "--job=job-7", "READY->PLOTTING", "operator start"}, argv)
}

func TestContextExpand_NoInjectionThroughValues(t *testing.T) {
	hc := Context{JobID: "x; rm -rf /"}
	argv := hc.Expand("echo {job_id}")
	assert.Equal(t, []string{"echo", "x; rm -rf /"}, argv)
}

func requireUnixTools(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX userland")
	}
	for _, tool := range []string{"echo", "sh", "sleep"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not available", tool)
		}
	}
}

func TestExecRunner_Success(t *testing.T) {
	requireUnixTools(t)
	out, code, err := ExecRunner{}.Run(context.Background(), []string{"echo", "hello"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello\n", string(out))
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	requireUnixTools(t)
	_, code, err := ExecRunner{}.Run(context.Background(), []string{"sh", "-c", "exit 3"})
	require.Error(t, err)
	assert.Equal(t, 3, code)
	assert.Contains(t, err.Error(), "exit status 3")
}

func TestExecRunner_Timeout(t *testing.T) {
	requireUnixTools(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, _, err := ExecRunner{WaitDelay: 100 * time.Millisecond}.Run(ctx, []string{"sleep", "5"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecRunner_OutputTruncated(t *testing.T) {
	requireUnixTools(t)
	script := "i=0; while [ $i -lt 2000 ]; do printf 'abcdefgh'; i=$((i+1)); done"
	out, _, err := ExecRunner{}.Run(context.Background(), []string{"sh", "-c", script})
	require.NoError(t, err)
	assert.Len(t, out, maxOutput)
	assert.True(t, strings.HasPrefix(string(out), "abcdefgh"))
}

func TestExecRunner_MissingBinary(t *testing.T) {
	_, code, err := ExecRunner{}.Run(context.Background(), []string{"definitely-not-a-plotline-binary"})
	assert.Error(t, err)
	assert.Equal(t, -1, code)
}
