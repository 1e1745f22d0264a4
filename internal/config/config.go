package config

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrConfig marks configuration problems detected before any service contact.
var ErrConfig = errors.New("configuration error")

const (
	configName = "check-updates"
	configDir  = "/etc/check-updates"
	envPrefix  = "CHECK_UPDATES"
)

type Config struct {
	LockFile       string `mapstructure:"lock_file" yaml:"lock_file"`
	Cron           string `mapstructure:"cron" yaml:"cron"`
	Warning        int    `mapstructure:"warning" yaml:"warning"`
	Critical       int    `mapstructure:"critical" yaml:"critical"`
	SecurityUpdate bool   `mapstructure:"security_update" yaml:"security_update"`
	Update         bool   `mapstructure:"update" yaml:"update"`
	Yes            bool   `mapstructure:"yes" yaml:"yes"`

	MinFreeDiskGB float64 `mapstructure:"min_free_disk_gb" yaml:"min_free_disk_gb"`
	ReportFile    string  `mapstructure:"report_file" yaml:"report_file"`
	TextfilePath  string  `mapstructure:"textfile_path" yaml:"textfile_path"`
	AuditFile     string  `mapstructure:"audit_file" yaml:"audit_file"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		Warning:       10,
		Critical:      20,
		LogLevel:      "warn",
		LogFormat:     "text",
		LogMaxSizeMB:  10,
		LogMaxBackups: 3,
	}
}

// ApplyMode reports whether any updates may be installed.
func (c *Config) ApplyMode() bool {
	return c.Update || c.SecurityUpdate
}

// Scheduled reports whether the run is gated by a schedule.
func (c *Config) Scheduled() bool {
	return c.Cron != ""
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"lock":             "lock_file",
	"cron":             "cron",
	"warning":          "warning",
	"critical":         "critical",
	"security-update":  "security_update",
	"update":           "update",
	"yes":              "yes",
	"min-free-disk-gb": "min_free_disk_gb",
	"report":           "report_file",
	"textfile":         "textfile_path",
	"audit-log":        "audit_file",
	"log-level":        "log_level",
	"log-format":       "log_format",
	"log-file":         "log_file",
}

// Load merges, in increasing priority, defaults, the config file,
// CHECK_UPDATES_* environment variables and flags explicitly set on the
// command line. The result is validated; fatal problems are returned as an
// error wrapping ErrConfig.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: read %s: %w", ErrConfig, v.ConfigFileUsed(), err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("%w: bind flag %s: %w", ErrConfig, name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	result := cfg.ValidateTiered()
	for _, w := range result.Warnings {
		log.Warn("config validation", "error", w.Error())
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("lock_file", d.LockFile)
	v.SetDefault("cron", d.Cron)
	v.SetDefault("warning", d.Warning)
	v.SetDefault("critical", d.Critical)
	v.SetDefault("security_update", d.SecurityUpdate)
	v.SetDefault("update", d.Update)
	v.SetDefault("yes", d.Yes)
	v.SetDefault("min_free_disk_gb", d.MinFreeDiskGB)
	v.SetDefault("report_file", d.ReportFile)
	v.SetDefault("textfile_path", d.TextfilePath)
	v.SetDefault("audit_file", d.AuditFile)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("log_max_size_mb", d.LogMaxSizeMB)
	v.SetDefault("log_max_backups", d.LogMaxBackups)
}
