package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"regexp"
	"time"

	"github.com/msgcode/msgcode/internal/errs"
)

const (
	defaultBashTimeout = 60 * time.Second
	maxOutputBytes     = 256 << 10 // per stream
)

// networkPatterns classify a shell command as egress. Matching is
// best-effort: a match means the command plausibly reaches the network and
// is denied under a local-only policy.
// Command position only: start of script or after ; | & so tool names
// appearing as arguments (grep curl …) do not trip the classifier.
var networkPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|[;&|]\s*)(curl|wget|ssh|scp|nc|telnet)(\s|$)`),
	regexp.MustCompile(`(^|[;&|]\s*)rsync\s+\S*\S+:`),
	regexp.MustCompile(`(^|[;&|]\s*)git\s+(clone|fetch|pull|push)(\s|$)`),
	regexp.MustCompile(`(^|[;&|]\s*)(pip3?|npm|yarn|pnpm|gem|cargo|go)\s+(install|get|add|download)(\s|$)`),
	regexp.MustCompile(`https?://`),
}

// isEgressCommand reports whether the script plausibly reaches the network.
func isEgressCommand(script string) bool {
	for _, re := range networkPatterns {
		if re.MatchString(script) {
			return true
		}
	}
	return false
}

// runBash executes the script with sh -c. The script is passed as a single
// argv element: no interpolation of user content into a format string.
func runBash(ctx context.Context, req Request) Response {
	script, _ := req.Params["command"].(string)
	if script == "" {
		return Fail(errs.New(errs.ToolArgInvalid, "command is required"))
	}
	timeout := req.Meta.Timeout
	if timeout <= 0 {
		timeout = defaultBashTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = req.Meta.WorkspacePath
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return Fail(errs.New(errs.ToolTimeout, "command exceeded %s", timeout).
			With("timeoutMs", int(timeout/time.Millisecond)))
	}
	data := &Data{
		Stdout: capOutput(stdout.Bytes()),
		Stderr: capOutput(stderr.Bytes()),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			data.ExitCode = exitErr.ExitCode()
			// Non-zero exit is still a completed execution; the model
			// sees the exit code and the captured streams.
			return Succeed(data)
		}
		return Fail(errs.Wrap(errs.ToolExecFailed, err))
	}
	return Succeed(data)
}

func capOutput(b []byte) string {
	if len(b) <= maxOutputBytes {
		return string(b)
	}
	return string(b[:maxOutputBytes]) + "\n[output truncated]"
}
