// Package cli maps the command line onto an export run.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldap-csv-exporter/internal/config"
	"github.com/isometry/ldap-csv-exporter/internal/exporter"
)

// Name prefixes every message printed for the user.
const Name = "ldap_csv_exporter"

// CLIConfig holds the command-line options. Timeouts are whole seconds.
type CLIConfig struct {
	BindDN     string   `help:"Bind DN." required:"true" short:"d" name:"binddn"`
	BindPasswd string   `help:"Bind password." short:"w" name:"bindpasswd" env:"LDAP_CSV_EXPORTER_BINDPASSWD"`
	SecretFile string   `help:"File whose first line is the bind password." short:"W" name:"secretfile"`
	Servers    []string `help:"Directory server, may be repeated. Tried in order." required:"true" short:"s" name:"server" sep:"none"`
	Port       int      `help:"Server port." short:"p" default:"389"`
	SSL        bool     `help:"Use LDAP over TLS." short:"z" name:"ssl"`
	Insecure   bool     `help:"Skip TLS certificate verification."`
	Timeout    int      `help:"Connect timeout in seconds." short:"c" default:"10"`
	TimeLimit  int      `help:"Search time limit in seconds." short:"t" name:"timelimit" default:"10"`
	BaseDN     string   `help:"Search base DN." required:"true" short:"b" name:"basedn"`

	Filter        string `help:"LDAP search filter." default:"(&(objectClass=user)(!(objectClass=computer)))"`
	PageSize      uint32 `help:"Search page size." name:"page-size" default:"10"`
	CSVPath       string `help:"Output CSV file." name:"csv-path" default:"result.csv"`
	CSVBOM        bool   `help:"Prefix the CSV file with a UTF-8 byte order mark." name:"csv-bom"`
	OnMissing     string `help:"What to do with entries missing sAMAccountName or cn (${enum})." name:"on-missing" enum:"skip,fail" default:"skip"`
	SearchRetries int    `help:"Re-bind and search retries after a failed search." name:"search-retries" default:"1"`

	Version kong.VersionFlag `help:"Print the version and exit."`
}

// Config builds the run configuration. The password is left empty and is
// resolved separately.
func (c *CLIConfig) Config() (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}

	cfg.BindDN = c.BindDN
	cfg.SecretFile = c.SecretFile
	cfg.Servers = append([]string(nil), c.Servers...)
	cfg.Port = c.Port
	cfg.UseTLS = c.SSL
	cfg.Insecure = c.Insecure
	cfg.ConnectTimeout = time.Duration(c.Timeout) * time.Second
	cfg.TimeLimit = time.Duration(c.TimeLimit) * time.Second
	cfg.BaseDN = c.BaseDN
	cfg.Filter = c.Filter
	cfg.PageSize = c.PageSize
	cfg.CSVPath = c.CSVPath
	cfg.CSVBOM = c.CSVBOM
	cfg.MissingPolicy = config.MissingPolicy(c.OnMissing)
	cfg.SearchRetries = c.SearchRetries

	return cfg, nil
}

// App runs the exporter for one command line.
type App struct {
	Stdout   io.Writer
	Stderr   io.Writer
	Version  string
	Pipeline *exporter.Pipeline
}

// NewApp returns an App that exports from a real directory.
func NewApp(stdout, stderr io.Writer, version string) *App {
	return &App{
		Stdout:   stdout,
		Stderr:   stderr,
		Version:  version,
		Pipeline: exporter.NewPipeline(),
	}
}

// exitCode carries a kong exit status out of the parser.
type exitCode int

func (a *App) parser(cfg *CLIConfig) (*kong.Kong, error) {
	return kong.New(cfg,
		kong.Name(Name),
		kong.Description("Export directory users to a CSV file."),
		kong.Writers(a.Stdout, a.Stderr),
		kong.Vars{"version": a.Version},
		kong.UsageOnError(),
		kong.Exit(func(code int) { panic(exitCode(code)) }),
	)
}

// Run parses args, resolves the bind password and runs the export. It returns
// the process exit status: 1 when no arguments are given, kong's status for
// invalid arguments and 0 otherwise. Failures of the export itself are printed
// and do not change the status.
func (a *App) Run(ctx context.Context, args []string) (code int) {
	cliCfg := &CLIConfig{}
	parser, err := a.parser(cliCfg)
	if err != nil {
		fmt.Fprintf(a.Stderr, "%s: %v\n", Name, err)
		return 1
	}

	defer func() {
		if r := recover(); r != nil {
			c, ok := r.(exitCode)
			if !ok {
				panic(r)
			}
			code = int(c)
		}
	}()

	if len(args) == 0 {
		if kctx, err := kong.Trace(parser, nil); err == nil {
			_ = kctx.PrintUsage(false)
		}
		return 1
	}

	_, err = parser.Parse(args)
	parser.FatalIfErrorf(err)

	cfg, err := cliCfg.Config()
	if err != nil {
		a.printf("Runtime error %s", exporter.Describe(err))
		return 0
	}

	cfg.BindPassword = a.resolvePassword(ctx, cliCfg)
	if cfg.BindPassword == "" {
		return 0
	}

	result, err := a.Pipeline.Run(ctx, cfg)
	if err != nil {
		stage, _ := exporter.StageOf(err)
		a.printf("%s error %s", stage, exporter.Describe(err))
		return 0
	}

	tflog.Info(ctx, "Export finished", map[string]any{
		"run_id":  result.RunID,
		"server":  result.Server,
		"rows":    result.Written.Rows,
		"skipped": result.Written.Skipped,
	})
	return 0
}

// resolvePassword returns the bind password, reporting why it is empty.
func (a *App) resolvePassword(ctx context.Context, c *CLIConfig) string {
	password, err := config.ResolvePassword(c.BindPasswd, c.SecretFile)
	if err == nil {
		return password
	}

	tflog.SubsystemWarn(ctx, "config", "Bind password not resolved", map[string]any{
		"error": err.Error(),
	})

	var secretErr *config.SecretFileError
	switch {
	case errors.Is(err, config.ErrPasswordNotSet):
		a.printf("Password for binddn is not set")
	case errors.As(err, &secretErr) && secretErr.Missing:
		a.printf("Password file %s not found", secretErr.Path)
	case errors.As(err, &secretErr):
		a.printf("Runtime error %s", exporter.Describe(secretErr.Err))
	default:
		a.printf("Runtime error %s", exporter.Describe(err))
	}
	return ""
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.Stdout, Name+" "+format+"\n", args...)
}
