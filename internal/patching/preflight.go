package patching

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/liberodark/check-updates/internal/logging"
)

var log = logging.L("patching")

// PreflightOptions configures which pre-flight checks to run before patching.
type PreflightOptions struct {
	CheckDiskSpace bool
	MinDiskSpaceGB float64
	DiskPath       string // defaults to "/"
}

// PreflightResult captures the outcome of all pre-flight checks.
type PreflightResult struct {
	OK     bool
	Checks []PreflightCheck
}

// PreflightCheck is one individual check result.
type PreflightCheck struct {
	Name    string
	Passed  bool
	Message string
}

// diskUsage is swapped in tests.
var diskUsage = func(path string) (*disk.UsageStat, error) {
	return disk.Usage(path)
}

// RunPreflight runs all enabled pre-flight checks and returns a combined result.
func RunPreflight(opts PreflightOptions) PreflightResult {
	result := PreflightResult{OK: true}

	if opts.CheckDiskSpace {
		check := checkDiskSpace(opts.DiskPath, opts.MinDiskSpaceGB)
		result.Checks = append(result.Checks, check)
		if !check.Passed {
			result.OK = false
		}
	}

	for _, c := range result.Checks {
		log.Debug("preflight check", "check", c.Name, "passed", c.Passed, "message", c.Message)
	}
	return result
}

// FirstError returns the first failed check as an *ErrPreflightFailed, or nil.
func (r PreflightResult) FirstError() error {
	for _, c := range r.Checks {
		if !c.Passed {
			return &ErrPreflightFailed{Check: c.Name, Message: c.Message}
		}
	}
	return nil
}

func checkDiskSpace(path string, minGB float64) PreflightCheck {
	check := PreflightCheck{Name: "disk_space"}
	if path == "" {
		path = "/"
	}

	usage, err := diskUsage(path)
	if err != nil {
		check.Message = fmt.Sprintf("failed to check disk space on %s: %v", path, err)
		return check
	}

	freeGB := float64(usage.Free) / (1024 * 1024 * 1024)
	if freeGB < minGB {
		check.Message = fmt.Sprintf("insufficient disk space: %.1f GB free, minimum %.1f GB required", freeGB, minGB)
		return check
	}

	check.Passed = true
	check.Message = fmt.Sprintf("%.1f GB free on %s", freeGB, path)
	return check
}
