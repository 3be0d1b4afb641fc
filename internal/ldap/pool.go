package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// MaxActiveCycles bounds how many passes over the server list a single
// connection attempt may make.
const MaxActiveCycles = 10

// serverPool implements ConnectionPool with a first-active strategy: servers
// are tried in configured order and the first one that accepts a connection
// and a bind is used. Servers that fail are skipped for the exhaust window.
type serverPool struct {
	ctx     context.Context // Logging context with LDAP subsystem
	config  *ConnectionConfig
	servers []*ServerInfo
	dial    DialFunc
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	exhausted map[*ServerInfo]time.Time
	lastHost  string
	closed    bool

	// Statistics
	attempts  int64
	failures  int64
	created   int64
	startTime time.Time
}

// PoolOption customizes a pool.
type PoolOption func(*serverPool)

// WithDialFunc replaces the function used to open connections.
func WithDialFunc(dial DialFunc) PoolOption {
	return func(p *serverPool) {
		p.dial = dial
	}
}

// WithClock replaces the time source used for the exhaust window.
func WithClock(now func() time.Time) PoolOption {
	return func(p *serverPool) {
		p.now = now
	}
}

// NewConnectionPool creates a new server pool.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig, opts ...PoolOption) (ConnectionPool, error) {
	start := time.Now()
	tflog.SubsystemDebug(ctx, "pool", "Creating new server pool")

	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	servers, err := ParseServers(config.Servers, config.Port, config.UseTLS)
	if err != nil {
		return nil, err
	}

	pool := &serverPool{
		ctx:       ctx, // Store context for logging
		config:    config,
		servers:   servers,
		dial:      dialLDAP,
		now:       time.Now,
		sleep:     sleepContext,
		exhausted: make(map[*ServerInfo]time.Time),
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(pool)
	}

	LogPoolEvent(ctx, "pool_initialized", map[string]any{
		"server_count":   len(servers),
		"active_cycles":  config.ActiveCycles,
		"exhaust_window": config.ExhaustWindow.String(),
		"duration":       time.Since(start).String(),
	})
	return pool, nil
}

// Get returns a bound connection to the first active server.
func (p *serverPool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("connection pool is closed")
	}
	p.mu.Unlock()

	var lastErr error

	for cycle := 0; cycle < p.config.ActiveCycles; cycle++ {
		if cycle > 0 && p.config.CycleDelay > 0 {
			if err := p.sleep(ctx, p.config.CycleDelay); err != nil {
				return nil, err
			}
		}

		for _, server := range p.candidates() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			conn, err := p.createSingleConnection(ctx, server)
			if err == nil {
				return conn, nil
			}
			lastErr = err

			// Credentials are shared by every server, a rejected bind will not
			// succeed elsewhere.
			if IsAuthenticationError(err) {
				LogPoolEvent(p.ctx, "authentication_rejected", map[string]any{
					"server": ServerInfoToURL(server),
					"error":  err.Error(),
				})
				return nil, err
			}

			p.markExhausted(server, err)
		}

		LogPoolEvent(p.ctx, "pool_exhausted", map[string]any{
			"cycle":      cycle + 1,
			"max_cycles": p.config.ActiveCycles,
		})
	}

	LogPoolEvent(p.ctx, "all_connections_failed", map[string]any{
		"server_count": len(p.servers),
	})
	return nil, NewConnectionError("no active server available", true, lastErr)
}

// candidates returns the servers that are not inside their exhaust window, in
// configured order. It is empty when every server is exhausted.
func (p *serverPool) candidates() []*ServerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	var active []*ServerInfo
	for _, server := range p.servers {
		until, ok := p.exhausted[server]
		if ok && now.Before(until) {
			continue
		}
		delete(p.exhausted, server)
		active = append(active, server)
	}

	return active
}

// markExhausted takes a server out of rotation for the exhaust window.
func (p *serverPool) markExhausted(server *ServerInfo, cause error) {
	p.mu.Lock()
	p.exhausted[server] = p.now().Add(p.config.ExhaustWindow)
	p.mu.Unlock()

	LogPoolEvent(p.ctx, "connection_failed", map[string]any{
		"server":         ServerInfoToURL(server),
		"exhaust_window": p.config.ExhaustWindow.String(),
		"error":          cause.Error(),
	})
}

// createSingleConnection creates a connection to a specific server and binds it.
func (p *serverPool) createSingleConnection(ctx context.Context, server *ServerInfo) (*PooledConnection, error) {
	url := ServerInfoToURL(server)
	atomic.AddInt64(&p.attempts, 1)

	LogConnectionEvent(p.ctx, "connection_attempt", map[string]any{
		"server": url,
	})

	conn, err := p.dial(ctx, server, p.config)
	if err != nil {
		atomic.AddInt64(&p.failures, 1)
		return nil, NewLDAPError("connect", err)
	}

	conn.SetTimeout(p.config.Timeout)

	pooledConn := &PooledConnection{
		conn:       conn,
		openedAt:   p.now(),
		serverInfo: server,
	}

	if p.config.HasAuthentication() {
		if err := p.authenticateConnection(pooledConn); err != nil {
			atomic.AddInt64(&p.failures, 1)
			_ = conn.Close()
			return nil, NewLDAPError("bind", err)
		}
	}

	atomic.AddInt64(&p.created, 1)
	p.mu.Lock()
	p.lastHost = server.Host
	p.mu.Unlock()

	LogConnectionEvent(p.ctx, "connection_established", map[string]any{
		"server": url,
		"bound":  pooledConn.bound,
	})
	return pooledConn, nil
}

// authenticateConnection performs the simple bind on a pooled connection.
func (p *serverPool) authenticateConnection(pooledConn *PooledConnection) error {
	if pooledConn == nil || pooledConn.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	if p.config.Username == "" {
		return fmt.Errorf("username is required for simple bind authentication")
	}

	if err := pooledConn.conn.Bind(p.config.Username, p.config.Password); err != nil {
		pooledConn.bound = false
		LogConnectionEvent(p.ctx, "authentication_failed", SanitizeFields(map[string]any{
			"username": p.config.Username,
			"server":   ServerInfoToURL(pooledConn.serverInfo),
			"error":    err.Error(),
		}))
		return err
	}

	pooledConn.bound = true
	return nil
}

// Release closes a connection obtained from Get.
func (p *serverPool) Release(conn *PooledConnection) {
	if conn == nil || conn.conn == nil {
		return
	}

	_ = conn.conn.Close()
	conn.bound = false

	LogPoolEvent(p.ctx, "connection_released", map[string]any{
		"server": ServerInfoToURL(conn.serverInfo),
	})
}

// Close shuts down the pool.
func (p *serverPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	return nil
}

// Stats returns pool statistics.
func (p *serverPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	exhausted := 0
	for _, until := range p.exhausted {
		if now.Before(until) {
			exhausted++
		}
	}

	return PoolStats{
		Servers:   len(p.servers),
		Exhausted: exhausted,
		Attempts:  atomic.LoadInt64(&p.attempts),
		Failures:  atomic.LoadInt64(&p.failures),
		Created:   atomic.LoadInt64(&p.created),
		LastHost:  p.lastHost,
		Uptime:    time.Since(p.startTime),
	}
}

// dialLDAP opens a plain or LDAPS connection depending on the server's TLS
// flag. The mode is fixed at dial time.
func dialLDAP(ctx context.Context, server *ServerInfo, config *ConnectionConfig) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	url := ServerInfoToURL(server)
	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: config.Timeout}),
	}

	if server.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(prepareTLSConfig(config.TLSConfig, server.Host)))
	}

	conn, err := ldap.DialURL(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	return conn, nil
}

// prepareTLSConfig clones the configured TLS settings and pins the server name
// for certificate validation.
func prepareTLSConfig(base *tls.Config, host string) *tls.Config {
	if base == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}

	tlsConfig := base.Clone()
	if !tlsConfig.InsecureSkipVerify && tlsConfig.ServerName == "" {
		tlsConfig.ServerName = host
	}
	return tlsConfig
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// validateConfig validates the connection configuration.
func validateConfig(config *ConnectionConfig) error {
	if len(config.Servers) == 0 {
		return errors.New("at least one server must be specified")
	}

	if config.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}

	if config.ActiveCycles <= 0 {
		return errors.New("ActiveCycles must be positive")
	}

	if config.ActiveCycles > MaxActiveCycles {
		return fmt.Errorf("ActiveCycles too high (max %d)", MaxActiveCycles)
	}

	if config.ExhaustWindow < 0 {
		return errors.New("ExhaustWindow cannot be negative")
	}

	if config.CycleDelay < 0 {
		return errors.New("CycleDelay cannot be negative")
	}

	return nil
}

// Methods for PooledConnection.

func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}

func (pc *PooledConnection) IsBound() bool {
	return pc.bound && pc.conn != nil && !pc.conn.IsClosing()
}

func (pc *PooledConnection) OpenedAt() time.Time {
	return pc.openedAt
}
