//go:build linux

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liberodark/check-updates/internal/schedule"
)

const (
	linuxBinaryPath  = "/usr/local/bin/check-updates"
	linuxUnitDir     = "/etc/systemd/system"
	linuxServiceName = "check-updates"
	linuxStateDir    = "/var/lib/check-updates"
	linuxLogDir      = "/var/log/check-updates"
)

var (
	timerOnCalendar string
	timerCron       string
	timerLock       string
	timerTextfile   string
	timerExtraArgs  []string
)

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Manage the systemd timer that runs scheduled checks",
}

func init() {
	rootCmd.AddCommand(timerCmd)
	timerCmd.AddCommand(timerInstallCmd)
	timerCmd.AddCommand(timerUninstallCmd)
	timerCmd.AddCommand(timerStatusCmd)

	f := timerInstallCmd.Flags()
	f.StringVar(&timerOnCalendar, "on-calendar", "hourly", "systemd OnCalendar expression that wakes the check")
	f.StringVar(&timerCron, "cron", "@daily", "schedule passed to --cron; decides whether a wake-up actually runs")
	f.StringVar(&timerLock, "lock", filepath.Join(linuxStateDir, "check-updates.lock"), "lock file passed to --lock")
	f.StringVar(&timerTextfile, "textfile", "", "metrics textfile passed to --textfile")
	f.StringSliceVar(&timerExtraArgs, "arg", nil, "extra argument for the check (repeatable)")
}

type unitOptions struct {
	Binary     string
	OnCalendar string
	Cron       string
	Lock       string
	Textfile   string
	ExtraArgs  []string
}

func (o unitOptions) execStart() string {
	args := []string{o.Binary, "--lock", o.Lock, "--cron", shellQuote(o.Cron)}
	if o.Textfile != "" {
		args = append(args, "--textfile", o.Textfile)
	}
	args = append(args, o.ExtraArgs...)
	return strings.Join(args, " ")
}

// shellQuote quotes values containing spaces for an ExecStart line.
func shellQuote(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func renderService(o unitOptions) string {
	return fmt.Sprintf(`[Unit]
Description=Check for pending package updates
After=network-online.target packagekit.service
Wants=network-online.target

[Service]
Type=oneshot
ExecStart=%s
# Exit codes 1 and 2 report Warning and Critical verdicts
SuccessExitStatus=1 2
ReadWritePaths=%s %s
PrivateTmp=true
StandardOutput=journal
StandardError=journal
SyslogIdentifier=check-updates
`, o.execStart(), linuxStateDir, linuxLogDir)
}

func renderTimer(o unitOptions) string {
	return fmt.Sprintf(`[Unit]
Description=Scheduled package update check

[Timer]
OnCalendar=%s
Persistent=true
RandomizedDelaySec=5min

[Install]
WantedBy=timers.target
`, o.OnCalendar)
}

func unitPaths() (service, timer string) {
	return filepath.Join(linuxUnitDir, linuxServiceName+".service"),
		filepath.Join(linuxUnitDir, linuxServiceName+".timer")
}

var timerInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and enable the systemd service and timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := schedule.Parse(timerCron); err != nil {
			return err
		}
		if os.Geteuid() != 0 {
			return fmt.Errorf("must run as root (sudo check-updates timer install)")
		}

		for _, dir := range []string{linuxStateDir, linuxLogDir} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}

		exePath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to determine executable path: %w", err)
		}
		exePath, err = filepath.EvalSymlinks(exePath)
		if err != nil {
			return fmt.Errorf("failed to resolve executable path: %w", err)
		}
		if exePath != linuxBinaryPath {
			data, err := os.ReadFile(exePath)
			if err != nil {
				return fmt.Errorf("failed to read binary: %w", err)
			}
			if err := os.WriteFile(linuxBinaryPath, data, 0755); err != nil {
				return fmt.Errorf("failed to copy binary to %s: %w", linuxBinaryPath, err)
			}
			fmt.Printf("Binary installed to %s\n", linuxBinaryPath)
		}

		opts := unitOptions{
			Binary:     linuxBinaryPath,
			OnCalendar: timerOnCalendar,
			Cron:       timerCron,
			Lock:       timerLock,
			Textfile:   timerTextfile,
			ExtraArgs:  timerExtraArgs,
		}
		servicePath, timerPath := unitPaths()
		if err := os.WriteFile(servicePath, []byte(renderService(opts)), 0644); err != nil {
			return fmt.Errorf("failed to write service unit: %w", err)
		}
		if err := os.WriteFile(timerPath, []byte(renderTimer(opts)), 0644); err != nil {
			return fmt.Errorf("failed to write timer unit: %w", err)
		}
		fmt.Printf("Systemd units installed to %s and %s\n", servicePath, timerPath)

		if out, err := exec.Command("systemctl", "daemon-reload").CombinedOutput(); err != nil {
			return fmt.Errorf("failed to reload systemd: %s", strings.TrimSpace(string(out)))
		}
		if out, err := exec.Command("systemctl", "enable", "--now", linuxServiceName+".timer").CombinedOutput(); err != nil {
			return fmt.Errorf("failed to enable timer: %s", strings.TrimSpace(string(out)))
		}

		fmt.Println()
		fmt.Println("check-updates timer installed and enabled.")
		fmt.Println("  Next run:  systemctl list-timers check-updates.timer")
		fmt.Println("  Logs:      journalctl -u check-updates")
		return nil
	},
}

var timerUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Disable and remove the systemd service and timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		if os.Geteuid() != 0 {
			return fmt.Errorf("must run as root (sudo check-updates timer uninstall)")
		}

		exec.Command("systemctl", "disable", "--now", linuxServiceName+".timer").Run()

		servicePath, timerPath := unitPaths()
		os.Remove(timerPath)
		os.Remove(servicePath)

		exec.Command("systemctl", "daemon-reload").Run()

		fmt.Println("check-updates timer uninstalled.")
		fmt.Printf("State in %s was preserved.\n", linuxStateDir)
		return nil
	},
}

var timerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show timer status",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, timerPath := unitPaths()
		if _, err := os.Stat(timerPath); os.IsNotExist(err) {
			fmt.Println("Timer: not installed")
			return nil
		}

		// systemctl status exits non-zero for inactive units.
		out, _ := exec.Command("systemctl", "status", linuxServiceName+".timer", "--no-pager").CombinedOutput()
		fmt.Println(strings.TrimSpace(string(out)))
		return nil
	},
}
