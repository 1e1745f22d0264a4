package packagekit

import "fmt"

// Category identifies a notification stream of a transaction.
type Category int

const (
	CategoryPackage Category = iota + 1
	CategoryDetail
	CategoryFinished
	CategoryError
)

func (c Category) String() string {
	switch c {
	case CategoryPackage:
		return "package"
	case CategoryDetail:
		return "update-detail"
	case CategoryFinished:
		return "finished"
	case CategoryError:
		return "error"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Notification is an out-of-band message emitted by a transaction.
type Notification interface {
	Category() Category
}

// PackageFound is emitted once per package matched by a request.
type PackageFound struct {
	Info      uint32
	PackageID string
	Summary   string
}

func (PackageFound) Category() Category { return CategoryPackage }

// UpdateDetail carries the advisory metadata of one update.
type UpdateDetail struct {
	PackageID    string
	Updates      []string
	Obsoletes    []string
	VendorURLs   []string
	BugzillaURLs []string
	CVEURLs      []string
	Restart      uint32
	UpdateText   string
	Changelog    string
	State        uint32
	Issued       string
	Updated      string
}

func (UpdateDetail) Category() Category { return CategoryDetail }

// Finished marks the end of a transaction. Runtime is in milliseconds.
type Finished struct {
	Exit    ExitStatus
	Runtime uint32
}

func (Finished) Category() Category { return CategoryFinished }

// ErrorCode reports a service-side failure.
type ErrorCode struct {
	Code    uint32
	Details string
}

func (ErrorCode) Category() Category { return CategoryError }

// ExitStatus is the PackageKit exit enum carried by Finished.
type ExitStatus uint32

const (
	ExitUnknown ExitStatus = iota
	ExitSuccess
	ExitFailed
	ExitCancelled
	ExitKeyRequired
	ExitEulaRequired
	ExitKilled
	ExitMediaChangeRequired
	ExitNeedUntrusted
	ExitCancelledPriority
	ExitSkipTransaction
	ExitRepairRequired
)

var exitNames = map[ExitStatus]string{
	ExitUnknown:             "unknown",
	ExitSuccess:             "success",
	ExitFailed:              "failed",
	ExitCancelled:           "cancelled",
	ExitKeyRequired:         "key-required",
	ExitEulaRequired:        "eula-required",
	ExitKilled:              "killed",
	ExitMediaChangeRequired: "media-change-required",
	ExitNeedUntrusted:       "need-untrusted",
	ExitCancelledPriority:   "cancelled-priority",
	ExitSkipTransaction:     "skip-transaction",
	ExitRepairRequired:      "repair-required",
}

func (e ExitStatus) String() string {
	if name, ok := exitNames[e]; ok {
		return name
	}
	return fmt.Sprintf("exit(%d)", uint32(e))
}
