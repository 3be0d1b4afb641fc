// Package config holds the resolved settings of a single export run.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"
	ldap "github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/ldap-csv-exporter/internal/ldap"
)

// MissingPolicy decides what happens to an entry that lacks a required column.
type MissingPolicy string

const (
	// MissingSkip drops the entry and logs a warning.
	MissingSkip MissingPolicy = "skip"
	// MissingFail aborts the write stage.
	MissingFail MissingPolicy = "fail"
)

// MaxSearchRetries bounds the re-bind and search retries of one run.
const MaxSearchRetries = 3

// DefaultFilter selects user objects that are not computer accounts.
const DefaultFilter = "(&(objectClass=user)(!(objectClass=computer)))"

// Config is the configuration of one export run. Build it with New so the
// struct tag defaults are applied.
type Config struct {
	// BindDN is the distinguished name used for the simple bind.
	BindDN string

	// BindPassword is resolved at runtime from the literal flag or SecretFile.
	BindPassword string

	// SecretFile names a file whose first line is the bind password.
	SecretFile string

	// Servers are tried in order by the first-active pool.
	Servers []string

	Port     int `default:"389"`
	UseTLS   bool
	Insecure bool

	// ConnectTimeout bounds the dial and every request on the connection.
	ConnectTimeout time.Duration `default:"10s"`

	// TimeLimit is the server side search time limit.
	TimeLimit time.Duration `default:"10s"`

	BaseDN   string
	Filter   string `default:"(&(objectClass=user)(!(objectClass=computer)))"`
	PageSize uint32 `default:"10"`

	CSVPath       string        `default:"result.csv"`
	MissingPolicy MissingPolicy `default:"skip"`
	CSVBOM        bool

	// SearchRetries is how many verified re-bind and search attempts follow a
	// failed search.
	SearchRetries int `default:"1"`

	// Pool tuning.
	ActiveCycles  int           `default:"3"`
	ExhaustWindow time.Duration `default:"60s"`
}

// New returns a Config with every default applied.
func New() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for required fields and value ranges.
// The bind password is not checked here; an empty password ends the run
// before any connection is attempted.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.BindDN) == "" {
		errs = append(errs, errors.New("bind DN is required"))
	}

	if len(c.Servers) == 0 {
		errs = append(errs, errors.New("at least one server is required"))
	}
	for _, s := range c.Servers {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, errors.New("server address cannot be empty"))
			break
		}
	}

	if strings.TrimSpace(c.BaseDN) == "" {
		errs = append(errs, errors.New("base DN is required"))
	} else if _, err := ldap.ParseDN(c.BaseDN); err != nil {
		errs = append(errs, fmt.Errorf("invalid base DN %q: %w", c.BaseDN, err))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535, got %d", c.Port))
	}

	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout))
	}

	if c.TimeLimit <= 0 {
		errs = append(errs, fmt.Errorf("search time limit must be positive, got %s", c.TimeLimit))
	}

	if c.PageSize == 0 {
		errs = append(errs, errors.New("page size must be greater than 0"))
	}

	if _, err := ldap.CompileFilter(c.Filter); err != nil {
		errs = append(errs, fmt.Errorf("invalid search filter %q: %w", c.Filter, err))
	}

	switch c.MissingPolicy {
	case MissingSkip, MissingFail:
	default:
		errs = append(errs, fmt.Errorf("missing attribute policy must be %q or %q, got %q", MissingSkip, MissingFail, c.MissingPolicy))
	}

	if c.SearchRetries < 0 || c.SearchRetries > MaxSearchRetries {
		errs = append(errs, fmt.Errorf("search retries must be between 0 and %d, got %d", MaxSearchRetries, c.SearchRetries))
	}

	if strings.TrimSpace(c.CSVPath) == "" {
		errs = append(errs, errors.New("CSV path cannot be empty"))
	}

	return errors.Join(errs...)
}

// ConnectionConfig builds the directory connection settings.
func (c *Config) ConnectionConfig() *ldapclient.ConnectionConfig {
	conn := ldapclient.DefaultConfig()

	conn.Servers = append([]string(nil), c.Servers...)
	conn.Port = c.Port
	conn.UseTLS = c.UseTLS
	conn.Timeout = c.ConnectTimeout
	conn.Username = c.BindDN
	conn.Password = c.BindPassword

	if c.ActiveCycles > 0 {
		conn.ActiveCycles = c.ActiveCycles
	}
	if c.ExhaustWindow > 0 {
		conn.ExhaustWindow = c.ExhaustWindow
	}

	if c.Insecure {
		conn.TLSConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true,
		}
	}

	return conn
}

// SearchRequest builds the paged search issued by the exporter. Aliases are
// always dereferenced.
func (c *Config) SearchRequest(attributes []string) *ldapclient.SearchRequest {
	return &ldapclient.SearchRequest{
		BaseDN:       c.BaseDN,
		Scope:        ldapclient.ScopeWholeSubtree,
		Filter:       c.Filter,
		Attributes:   attributes,
		Operational:  true,
		TimeLimit:    c.TimeLimit,
		PageSize:     c.PageSize,
		DerefAliases: ldapclient.DerefAlways,
	}
}

// LogFields returns the settings worth logging. The password never appears.
func (c *Config) LogFields() map[string]any {
	return map[string]any{
		"bind_dn":         c.BindDN,
		"servers":         c.Servers,
		"port":            c.Port,
		"use_tls":         c.UseTLS,
		"connect_timeout": c.ConnectTimeout.String(),
		"time_limit":      c.TimeLimit.String(),
		"base_dn":         c.BaseDN,
		"filter":          c.Filter,
		"page_size":       c.PageSize,
		"csv_path":        c.CSVPath,
		"missing_policy":  string(c.MissingPolicy),
		"search_retries":  c.SearchRetries,
	}
}
