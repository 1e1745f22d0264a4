package packagekit

import (
	"errors"
	"fmt"
)

var (
	// ErrServiceCall wraps failures of a method call on the service.
	ErrServiceCall = errors.New("packagekit: service call failed")
	// ErrStreamClosed means the notification stream ended without Finished.
	ErrStreamClosed = errors.New("packagekit: notification stream ended before the transaction finished")
)

// TransactionError is a failure reported by the service through an error
// notification.
type TransactionError struct {
	Phase   string
	Code    uint32
	Details string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Phase, e.Details)
}
