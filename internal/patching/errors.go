package patching

import "fmt"

// ErrPreflightFailed indicates a pre-flight check failed before patching could proceed.
type ErrPreflightFailed struct {
	Check   string // e.g. "disk_space"
	Message string
}

func (e *ErrPreflightFailed) Error() string {
	return fmt.Sprintf("preflight check %q failed: %s", e.Check, e.Message)
}
