package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liberodark/check-updates/internal/checker"
	"github.com/liberodark/check-updates/internal/config"
	"github.com/liberodark/check-updates/internal/health"
	"github.com/liberodark/check-updates/internal/logging"
	"github.com/liberodark/check-updates/internal/packagekit"
)

var (
	version  = "0.1.0"
	cfgFile  string
	exitCode int

	stdout         io.Writer = os.Stdout
	connectService           = connectPackageKit
)

var rootCmd = &cobra.Command{
	Use:   "check-updates",
	Short: "Check for system updates via PackageKit",
	Long: `check-updates asks PackageKit for pending updates, optionally installs them,
and reports the result as a Nagios plugin status line.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = runCheck(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("check-updates v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/check-updates/check-updates.yaml)")

	addCheckFlags(rootCmd.Flags())
	rootCmd.AddCommand(versionCmd)
}

func addCheckFlags(f *pflag.FlagSet) {
	f.String("lock", "", "lock file guarding against concurrent runs; also stores the last run time")
	f.String("cron", "", `schedule "minute hour day month" or @hourly/@daily/@monthly/@yearly; requires --lock`)
	f.IntP("warning", "w", 10, "warning threshold for security updates")
	f.IntP("critical", "c", 20, "critical threshold for security updates")
	f.Bool("security-update", false, "install security updates")
	f.Bool("update", false, "install all updates")
	f.BoolP("yes", "y", false, "do not ask for confirmation before installing")
	f.Float64("min-free-disk-gb", 0, "refuse to install when the root filesystem has less free space (GB)")
	f.String("report", "", "write a YAML report of the run to this file")
	f.String("textfile", "", "write Prometheus metrics to this file for the node_exporter textfile collector")
	f.String("audit-log", "", "append installed packages to this hash-chained audit log")
	f.String("log-level", "warn", "log level (debug, info, warn, error)")
	f.String("log-format", "text", "log format (text, json)")
	f.String("log-file", "", "also write logs to this file, rotated by size")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(health.Unknownf("%v", err))
		os.Exit(health.Unknown.ExitCode())
	}
	os.Exit(exitCode)
}

func runCheck(cmd *cobra.Command) int {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		fmt.Fprintln(stdout, health.Unknownf("%v", err))
		return health.Unknown.ExitCode()
	}

	var logOut io.Writer = os.Stderr
	var logFile *logging.FileWriter
	if cfg.LogFile != "" {
		logFile, err = logging.OpenFile(logging.FileConfig{
			Path:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})
		if err != nil {
			fmt.Fprintln(stdout, health.Unknownf("%v", err))
			return health.Unknown.ExitCode()
		}
		defer logFile.Close()
		logOut = logging.TeeWriter(os.Stderr, logFile)
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, logOut)

	runID := uuid.NewString()
	log := logging.WithRun(logging.L("main"), runID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSignals := watchSignals(cancel, logFile)
	defer stopSignals()

	p := &probe{
		cfg:     cfg,
		runID:   runID,
		log:     log,
		out:     stdout,
		connect: connectService,
		confirm: checker.PromptConfirmer{In: os.Stdin, Out: os.Stderr},
	}
	return p.run(logging.NewContext(ctx, log))
}

func connectPackageKit(ctx context.Context) (checker.PackageService, io.Closer, error) {
	svc, err := packagekit.Connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	return packagekit.NewClient(svc, packagekit.Options{Logger: logging.FromContext(ctx)}), svc, nil
}

// watchSignals cancels the run on SIGINT, SIGTERM or SIGQUIT and rotates the
// log file on SIGHUP.
func watchSignals(cancel context.CancelFunc, logFile *logging.FileWriter) func() {
	log := logging.L("signals")
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				if sig == syscall.SIGHUP {
					if logFile == nil {
						continue
					}
					if err := logFile.Rotate(); err != nil {
						log.Warn("log rotation failed", logging.KeyError, err.Error())
					}
					continue
				}
				log.Warn("received signal, terminating", "signal", sig.String())
				cancel()
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}
