package packagekit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/liberodark/check-updates/internal/logging"
)

const (
	busName              = "org.freedesktop.PackageKit"
	busPath              = dbus.ObjectPath("/org/freedesktop/PackageKit")
	busInterface         = "org.freedesktop.PackageKit"
	transactionInterface = "org.freedesktop.PackageKit.Transaction"

	signalPackage      = transactionInterface + ".Package"
	signalUpdateDetail = transactionInterface + ".UpdateDetail"
	signalFinished     = transactionInterface + ".Finished"
	signalErrorCode    = transactionInterface + ".ErrorCode"
	signalDestroy      = transactionInterface + ".Destroy"

	signalQueue = 256
)

// destroyGrace is how long signals are still forwarded after Destroy. When
// the subscriber channel is full, godbus delivers from extra goroutines, so
// Destroy may arrive ahead of Finished or Package signals sent before it.
var destroyGrace = 100 * time.Millisecond

// DBusService talks to packagekitd on the system bus.
type DBusService struct {
	conn *dbus.Conn
	log  *slog.Logger
}

// Connect opens a private connection to the system bus.
func Connect(ctx context.Context) (*DBusService, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return NewDBusService(conn), nil
}

// NewDBusService wraps an existing bus connection.
func NewDBusService(conn *dbus.Conn) *DBusService {
	return &DBusService{conn: conn, log: logging.L("dbus")}
}

// Close closes the bus connection.
func (s *DBusService) Close() error {
	return s.conn.Close()
}

// CreateTransaction asks packagekitd for a new transaction object and
// subscribes to its signals.
func (s *DBusService) CreateTransaction(ctx context.Context) (Transaction, error) {
	var path dbus.ObjectPath
	call := s.conn.Object(busName, busPath).CallWithContext(ctx, busInterface+".CreateTransaction", 0)
	if err := call.Store(&path); err != nil {
		return nil, fmt.Errorf("CreateTransaction: %w", err)
	}

	match := []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(transactionInterface),
	}
	if err := s.conn.AddMatchSignal(match...); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", path, err)
	}

	signals := make(chan *dbus.Signal, signalQueue)
	s.conn.Signal(signals)

	tx := &dbusTransaction{
		conn:    s.conn,
		obj:     s.conn.Object(busName, path),
		path:    path,
		match:   match,
		signals: signals,
		out:     make(chan Notification, signalQueue),
		stop:    make(chan struct{}),
		log:     s.log.With(logging.KeyTransaction, string(path)),
	}
	go tx.forward()
	return tx, nil
}

type dbusTransaction struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	path    dbus.ObjectPath
	match   []dbus.MatchOption
	signals chan *dbus.Signal
	out     chan Notification
	stop    chan struct{}
	once    sync.Once
	log     *slog.Logger
}

func (t *dbusTransaction) Path() string {
	return string(t.path)
}

func (t *dbusTransaction) Notifications() <-chan Notification {
	return t.out
}

func (t *dbusTransaction) RefreshCache(ctx context.Context, force bool) error {
	return t.call(ctx, "RefreshCache", force)
}

func (t *dbusTransaction) GetUpdates(ctx context.Context, filter uint64) error {
	return t.call(ctx, "GetUpdates", filter)
}

func (t *dbusTransaction) GetUpdateDetail(ctx context.Context, packageIDs []string) error {
	return t.call(ctx, "GetUpdateDetail", packageIDs)
}

func (t *dbusTransaction) UpdatePackages(ctx context.Context, flags uint64, packageIDs []string) error {
	return t.call(ctx, "UpdatePackages", flags, packageIDs)
}

func (t *dbusTransaction) Cancel(ctx context.Context) error {
	return t.call(ctx, "Cancel")
}

func (t *dbusTransaction) call(ctx context.Context, method string, args ...any) error {
	if err := t.obj.CallWithContext(ctx, transactionInterface+"."+method, 0, args...).Err; err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (t *dbusTransaction) Close() error {
	var err error
	t.once.Do(func() {
		close(t.stop)
		t.conn.RemoveSignal(t.signals)
		err = t.conn.RemoveMatchSignal(t.match...)
	})
	return err
}

// forward decodes signals addressed to this transaction until Close is
// called, the connection goes away, or destroyGrace has passed since the
// service destroyed the transaction.
func (t *dbusTransaction) forward() {
	defer close(t.out)

	var destroyed <-chan time.Time
	for {
		select {
		case <-t.stop:
			return
		case <-destroyed:
			return
		case sig, ok := <-t.signals:
			if !ok {
				return
			}
			if sig.Path != t.path {
				continue
			}
			if sig.Name == signalDestroy {
				if destroyed == nil {
					timer := time.NewTimer(destroyGrace)
					defer timer.Stop()
					destroyed = timer.C
				}
				continue
			}

			n, err := decodeSignal(sig)
			if err != nil {
				t.log.Warn("dropping malformed signal", "signal", sig.Name, logging.KeyError, err.Error())
				continue
			}
			if n == nil {
				continue
			}

			select {
			case t.out <- n:
			case <-t.stop:
				return
			}
		}
	}
}

// decodeSignal converts a transaction signal into a Notification. Signals of
// no interest return nil without an error.
func decodeSignal(sig *dbus.Signal) (Notification, error) {
	switch sig.Name {
	case signalPackage:
		var n PackageFound
		if err := dbus.Store(sig.Body, &n.Info, &n.PackageID, &n.Summary); err != nil {
			return nil, err
		}
		return n, nil

	case signalUpdateDetail:
		var n UpdateDetail
		err := dbus.Store(sig.Body,
			&n.PackageID, &n.Updates, &n.Obsoletes, &n.VendorURLs, &n.BugzillaURLs, &n.CVEURLs,
			&n.Restart, &n.UpdateText, &n.Changelog, &n.State, &n.Issued, &n.Updated,
		)
		if err != nil {
			return nil, err
		}
		return n, nil

	case signalFinished:
		var exit, runtime uint32
		if err := dbus.Store(sig.Body, &exit, &runtime); err != nil {
			return nil, err
		}
		return Finished{Exit: ExitStatus(exit), Runtime: runtime}, nil

	case signalErrorCode:
		var n ErrorCode
		if err := dbus.Store(sig.Body, &n.Code, &n.Details); err != nil {
			return nil, err
		}
		return n, nil

	default:
		return nil, nil
	}
}
