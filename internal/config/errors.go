package config

import "fmt"

// Error codes returned to the client on rejected requests.
const (
	CodeRelativePath       = "RELATIVE_PATH"
	CodePathNotFound       = "PATH_NOT_FOUND"
	CodeUnsupportedConsole = "UNSUPPORTED_CONSOLE"
	CodeRuntimeNotFound    = "RUNTIME_NOT_FOUND"
	CodeEnvFileLoadFailed  = "ENVFILE_LOAD_FAILED"
	CodeSpawnFailed        = "SPAWN_FAILED"
)

// CodedError is a user-correctable failure with a stable identifying code.
// These reject the triggering request instead of terminating the session.
type CodedError struct {
	Code    string
	Message string
}

func (e *CodedError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Errorf builds a CodedError with a formatted message.
func Errorf(code, format string, args ...interface{}) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}
