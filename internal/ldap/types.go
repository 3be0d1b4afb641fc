package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Pool defaults, mirroring the classic first-active server pool behavior.
const (
	// DefaultActiveCycles is how many passes over the server list a pool makes
	// before reporting that no server is available.
	DefaultActiveCycles = 3

	// DefaultExhaustWindow is how long a server that failed to connect is
	// skipped before it becomes a candidate again.
	DefaultExhaustWindow = 60 * time.Second

	// DefaultPageSize is the paging control size used for searches.
	DefaultPageSize uint32 = 10
)

// ConnectionConfig holds configuration for LDAP connections.
type ConnectionConfig struct {
	// Connection settings
	Servers []string      // Hostnames, host:port pairs or ldap(s):// URLs, tried in order
	Port    int           // Port used for servers given without one
	UseTLS  bool          // Dial LDAPS for servers given without a scheme
	Timeout time.Duration // Dial timeout, also applied to every request

	// Authentication settings
	Username string // Bind DN
	Password string // Password for simple bind authentication

	// TLS settings
	TLSConfig *tls.Config // Used for LDAPS connections only, StartTLS is never negotiated

	// Pool settings
	ActiveCycles  int           // Passes over the server list per connection attempt
	ExhaustWindow time.Duration // How long a failed server stays out of rotation
	CycleDelay    time.Duration // Pause between two passes over the server list
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Port:          389,
		Timeout:       10 * time.Second,
		ActiveCycles:  DefaultActiveCycles,
		ExhaustWindow: DefaultExhaustWindow,
		CycleDelay:    time.Second,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			// Certificate validation enabled by default
			InsecureSkipVerify: false,
		},
	}
}

// HasAuthentication checks if bind credentials are configured.
func (c *ConnectionConfig) HasAuthentication() bool {
	return c.Username != "" && c.Password != ""
}

// Conn is the part of *ldap.Conn the client relies on.
type Conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SetTimeout(timeout time.Duration)
	IsClosing() bool
	Close() error
}

// DialFunc opens a connection to a single server.
type DialFunc func(ctx context.Context, server *ServerInfo, config *ConnectionConfig) (Conn, error)

// PooledConnection represents a connection handed out by the pool.
type PooledConnection struct {
	conn       Conn
	openedAt   time.Time
	bound      bool
	serverInfo *ServerInfo
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host   string
	Port   int
	UseTLS bool
	Source string // "config" or "url"
}

// ConnectionPool hands out connections from an ordered list of servers.
type ConnectionPool interface {
	// Get returns a bound connection to the first active server.
	Get(ctx context.Context) (*PooledConnection, error)

	// Release closes a connection obtained from Get.
	Release(conn *PooledConnection)

	// Close shuts down the pool.
	Close() error

	// Stats returns pool statistics.
	Stats() PoolStats
}

// PoolStats provides statistics about the server pool.
type PoolStats struct {
	Servers   int           // Configured servers
	Exhausted int           // Servers currently out of rotation
	Attempts  int64         // Connection attempts made
	Failures  int64         // Connection attempts that failed
	Created   int64         // Connections successfully opened
	LastHost  string        // Host that served the most recent connection
	Uptime    time.Duration // Pool uptime
}

// LogFields returns the statistics as structured log fields.
func (s PoolStats) LogFields() map[string]any {
	return map[string]any{
		"pool_servers":   s.Servers,
		"pool_exhausted": s.Exhausted,
		"pool_attempts":  s.Attempts,
		"pool_failures":  s.Failures,
		"pool_created":   s.Created,
		"last_host":      s.LastHost,
		"pool_uptime":    s.Uptime.String(),
	}
}

// Client is a session bound to a single directory identity.
type Client interface {
	// Connection management
	Connect(ctx context.Context) error
	Rebind(ctx context.Context) error
	Close() error

	// Session state
	Bound() bool
	Closed() bool
	ServerInfo() *ServerInfo

	// Search collects every page of a paged search.
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	Stats() PoolStats
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	Operational  bool // Also request operational attributes ("+")
	TimeLimit    time.Duration
	PageSize     uint32
	DerefAliases DerefAliases
}

// SearchResult contains search results and metadata.
type SearchResult struct {
	Entries   []*ldap.Entry
	Referrals []string
	Pages     int
	Total     int
}

// SearchScope defines LDAP search scope.
type SearchScope int

// ScopeWholeSubtree searches the base object and its entire subtree.
const ScopeWholeSubtree SearchScope = ldap.ScopeWholeSubtree

// String returns the scope name used in logs.
func (s SearchScope) String() string {
	if s == ScopeWholeSubtree {
		return "subtree"
	}
	return "unknown"
}

// DerefAliases defines alias dereferencing behavior. The zero value never
// dereferences.
type DerefAliases int

// DerefAlways dereferences aliases both when locating the base object and
// while searching beneath it.
const DerefAlways DerefAliases = ldap.DerefAlways

// RetryableError indicates an error that can be retried.
type RetryableError interface {
	error
	IsRetryable() bool
}

// ConnectionError represents connection-related errors.
type ConnectionError struct {
	message   string
	retryable bool
	cause     error
}

func (e *ConnectionError) Error() string {
	if e.cause != nil {
		return e.message + ": " + e.cause.Error()
	}
	return e.message
}

func (e *ConnectionError) IsRetryable() bool {
	return e.retryable
}

func (e *ConnectionError) Unwrap() error {
	return e.cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, retryable bool, cause error) *ConnectionError {
	return &ConnectionError{
		message:   message,
		retryable: retryable,
		cause:     cause,
	}
}
