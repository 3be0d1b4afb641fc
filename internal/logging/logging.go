// Package logging installs the structured logger shared by every package.
package logging

import (
	"context"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/terraform-plugin-log/tflog"
	"github.com/hashicorp/terraform-plugin-log/tfsdklog"
)

// EnvLogLevel sets the root log level. Subsystem levels are read from
// EnvLogLevel + "_" + the upper-cased subsystem name, e.g. LDAP_CSV_EXPORTER_LOG_POOL.
const EnvLogLevel = "LDAP_CSV_EXPORTER_LOG"

// LoggerName is the name of the root logger.
const LoggerName = "ldap_csv_exporter"

// Subsystem names.
const (
	SubsystemLDAP   = "ldap"
	SubsystemPool   = "pool"
	SubsystemExport = "export"
	SubsystemConfig = "config"
)

// Subsystems lists every subsystem created by NewRootContext.
var Subsystems = []string{SubsystemLDAP, SubsystemPool, SubsystemExport, SubsystemConfig}

// Level returns the root level configured in the environment, WARN when unset
// or unrecognized.
func Level() hclog.Level {
	level := hclog.LevelFromString(strings.TrimSpace(os.Getenv(EnvLogLevel)))
	if level == hclog.NoLevel {
		return hclog.Warn
	}
	return level
}

// NewRootContext returns a context carrying the root logger, writing JSON
// lines to stderr, and every subsystem logger.
func NewRootContext(ctx context.Context) context.Context {
	ctx = tfsdklog.NewRootProviderLogger(ctx,
		tfsdklog.WithLogName(LoggerName),
		tfsdklog.WithLevel(Level()),
		tfsdklog.WithoutLocation(),
	)
	return WithSubsystems(ctx)
}

// WithSubsystems creates the subsystem loggers on an existing root logger.
// Tests use it on top of tflogtest.RootLogger.
func WithSubsystems(ctx context.Context) context.Context {
	for _, subsystem := range Subsystems {
		ctx = tflog.NewSubsystem(ctx, subsystem, tflog.WithLevelFromEnv(EnvLogLevel, subsystem))
	}
	return ctx
}
