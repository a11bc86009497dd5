package guard

import (
	"context"
	"fmt"
)

// Status is the outcome of a single guard check.
type Status string

const (
	StatusPass     Status = "PASS"
	StatusFail     Status = "FAIL"
	StatusSoftFail Status = "SOFT_FAIL"
)

// Result is what a guard reports for one job.
type Result struct {
	Guard   string         `json:"guard"`
	Status  Status         `json:"result"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Pass builds a passing result.
func Pass(guard, message string) Result {
	return Result{Guard: guard, Status: StatusPass, Message: message}
}

// Fail builds a blocking result.
func Fail(guard, message string) Result {
	return Result{Guard: guard, Status: StatusFail, Message: message}
}

// SoftFail builds an advisory result.
func SoftFail(guard, message string) Result {
	return Result{Guard: guard, Status: StatusSoftFail, Message: message}
}

// With returns r with key set in its details.
func (r Result) With(key string, value any) Result {
	d := make(map[string]any, len(r.Details)+1)
	for k, v := range r.Details {
		d[k] = v
	}
	d[key] = value
	r.Details = d
	return r
}

func (r Result) String() string {
	return fmt.Sprintf("%s=%s: %s", r.Guard, r.Status, r.Message)
}

// Guard is a named precondition check. Implementations must not change job state.
type Guard interface {
	Name() string
	Check(ctx context.Context, jobID string) (Result, error)
}

// Func adapts a function to the Guard interface.
type Func struct {
	GuardName string
	Fn        func(ctx context.Context, jobID string) (Result, error)
}

// Name returns the guard name.
func (f Func) Name() string { return f.GuardName }

// Check calls Fn.
func (f Func) Check(ctx context.Context, jobID string) (Result, error) {
	return f.Fn(ctx, jobID)
}

// Blocking returns the FAIL results in rs.
func Blocking(rs []Result) []Result {
	return filter(rs, StatusFail)
}

// Warnings returns the SOFT_FAIL results in rs.
func Warnings(rs []Result) []Result {
	return filter(rs, StatusSoftFail)
}

func filter(rs []Result, s Status) []Result {
	var out []Result
	for _, r := range rs {
		if r.Status == s {
			out = append(out, r)
		}
	}
	return out
}
