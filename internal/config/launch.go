package config

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/samber/lo"
	"github.com/subosito/gotenv"
)

// Console modes. Only the internal console is supported; requests asking for
// a terminal are rejected.
const ConsoleInternal = "internalConsole"

// RestartArgs is the descriptor a host passes back when reconnecting after a
// session restart.
type RestartArgs struct {
	Port int `json:"port"`
}

// LaunchArgs are the fields consumed from a DAP launch request.
type LaunchArgs struct {
	Program           string             `json:"program"`
	Args              []string           `json:"args,omitempty"`
	Cwd               string             `json:"cwd,omitempty"`
	RuntimeExecutable string             `json:"runtimeExecutable,omitempty"`
	RuntimeArgs       []string           `json:"runtimeArgs,omitempty"`
	Env               map[string]*string `json:"env,omitempty"`
	EnvFile           string             `json:"envFile,omitempty"`
	Port              int                `json:"port,omitempty"`
	StopOnEntry       bool               `json:"stopOnEntry,omitempty"`
	Console           string             `json:"console,omitempty"`
	OutputCapture     string             `json:"outputCapture,omitempty"`
	Restart           *RestartArgs       `json:"restart,omitempty"`
	Timeout           int                `json:"timeout,omitempty"` // milliseconds
	NoDebug           bool               `json:"noDebug,omitempty"`
}

// AttachArgs are the fields consumed from a DAP attach request.
type AttachArgs struct {
	Port        int          `json:"port,omitempty"`
	Restart     *RestartArgs `json:"restart,omitempty"`
	Timeout     int          `json:"timeout,omitempty"`
	StopOnEntry bool         `json:"stopOnEntry,omitempty"`
}

// DecodeLaunch parses raw DAP launch arguments.
func DecodeLaunch(raw json.RawMessage) (*LaunchArgs, error) {
	var args LaunchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return &args, nil
}

// DecodeAttach parses raw DAP attach arguments.
func DecodeAttach(raw json.RawMessage) (*AttachArgs, error) {
	var args AttachArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return &args, nil
}

// Validate checks the user-correctable parts of a launch request and returns
// a CodedError describing the first problem found.
func (a *LaunchArgs) Validate() error {
	if a.Console != "" && a.Console != ConsoleInternal {
		return Errorf(CodeUnsupportedConsole, "console mode %q is not supported, use %q", a.Console, ConsoleInternal)
	}
	if a.Program == "" {
		return Errorf(CodePathNotFound, "launch request has no program")
	}
	if !filepath.IsAbs(a.Program) {
		return Errorf(CodeRelativePath, "program %q must be an absolute path", a.Program)
	}
	if _, err := os.Stat(a.Program); err != nil {
		return Errorf(CodePathNotFound, "program %q does not exist", a.Program)
	}
	if a.Cwd != "" {
		if !filepath.IsAbs(a.Cwd) {
			return Errorf(CodeRelativePath, "cwd %q must be an absolute path", a.Cwd)
		}
		if fi, err := os.Stat(a.Cwd); err != nil || !fi.IsDir() {
			return Errorf(CodePathNotFound, "cwd %q does not exist", a.Cwd)
		}
	}
	return nil
}

// ResolveRuntime locates the configured runtime executable on PATH. An empty
// executable defaults to "node".
func (a *LaunchArgs) ResolveRuntime() (string, error) {
	name := a.RuntimeExecutable
	if name == "" {
		name = "node"
	}
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", Errorf(CodeRuntimeNotFound, "runtime executable %q does not exist", name)
		}
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", Errorf(CodeRuntimeNotFound, "runtime executable %q not found on PATH", name)
	}
	return path, nil
}

// EffectiveEnv merges the env-file contents (lowest precedence) with the
// request's env overlay. Overlay keys mapped to nil survive as nil so the
// supervisor can unset them in the child environment.
func (a *LaunchArgs) EffectiveEnv() (map[string]*string, error) {
	merged := map[string]*string{}
	if a.EnvFile != "" {
		fileEnv, err := gotenv.Read(a.EnvFile)
		if err != nil {
			return nil, Errorf(CodeEnvFileLoadFailed, "loading env file %q: %v", a.EnvFile, err)
		}
		merged = lo.MapValues(fileEnv, func(v string, _ string) *string { return &v })
	}
	for k, v := range a.Env {
		merged[k] = v
	}
	return merged, nil
}

// CaptureStd reports whether the request asked for raw std-stream capture.
func (a *LaunchArgs) CaptureStd() bool {
	return a.OutputCapture == "std"
}
