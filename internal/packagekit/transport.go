package packagekit

import "context"

// Request parameters understood by PackageKit.
const (
	// FilterNone disables filtering of GetUpdates results.
	FilterNone uint64 = 0
	// TransactionFlagOnlyTrusted refuses packages from untrusted sources.
	TransactionFlagOnlyTrusted uint64 = 1 << 1
)

// Service creates transactions on the package-management service.
type Service interface {
	CreateTransaction(ctx context.Context) (Transaction, error)
}

// Transaction is one service-side session. Its notification stream is
// subscribed before CreateTransaction returns, so no notification emitted in
// response to a request can be missed. The stream is closed when the service
// destroys the transaction or Close is called.
type Transaction interface {
	Path() string
	Notifications() <-chan Notification

	RefreshCache(ctx context.Context, force bool) error
	GetUpdates(ctx context.Context, filter uint64) error
	GetUpdateDetail(ctx context.Context, packageIDs []string) error
	UpdatePackages(ctx context.Context, flags uint64, packageIDs []string) error
	Cancel(ctx context.Context) error

	// Close unsubscribes and closes the notification stream. Idempotent.
	Close() error
}
