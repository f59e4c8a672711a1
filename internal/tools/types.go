// Package tools implements the closed tool set and the policy gate every
// call passes through.
package tools

import (
	"time"

	"github.com/msgcode/msgcode/internal/errs"
)

// Canonical tool names. The set is closed; the bus rejects anything else.
const (
	ToolReadFile  = "read_file"
	ToolWriteFile = "write_file"
	ToolEditFile  = "edit_file"
	ToolBash      = "bash"
	ToolDesktop   = "desktop"
)

// AllTools lists the canonical names in a stable order.
func AllTools() []string {
	return []string{ToolReadFile, ToolWriteFile, ToolEditFile, ToolBash, ToolDesktop}
}

// Meta carries the per-request execution context.
type Meta struct {
	SchemaVersion int           `json:"schemaVersion"`
	RequestID     string        `json:"requestId"`
	WorkspacePath string        `json:"workspacePath"`
	Timeout       time.Duration `json:"-"`
	TimeoutMs     int           `json:"timeoutMs"`
	Source        string        `json:"source,omitempty"`
}

// Request is one tool invocation.
type Request struct {
	Tool    string         `json:"tool"`
	Method  string         `json:"method,omitempty"` // desktop only
	Params  map[string]any `json:"params"`
	Meta    Meta           `json:"meta"`
	Confirm *Confirm       `json:"confirm,omitempty"`
}

// Confirm carries a previously issued confirm token.
type Confirm struct {
	Token string `json:"token"`
}

// Data is the success payload.
type Data struct {
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exitCode"`
	Result   any    `json:"result,omitempty"`
}

// Artifact points at a file a tool produced.
type Artifact struct {
	Path string `json:"path"`
	Kind string `json:"kind"` // "screenshot", "file", ...
}

// Response is the uniform envelope. Exactly one of Data/Err is meaningful.
type Response struct {
	OK        bool       `json:"ok"`
	Data      *Data      `json:"data,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Err       *errs.E    `json:"error,omitempty"`
}

// Fail wraps a coded error into a response.
func Fail(e *errs.E) Response { return Response{OK: false, Err: e} }

// Succeed wraps a data payload.
func Succeed(d *Data) Response { return Response{OK: true, Data: d} }
