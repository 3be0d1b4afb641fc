package ldap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// OperationalAttributes requests all operational attributes (RFC 3673).
const OperationalAttributes = "+"

// sessionState tracks the lifecycle of a client session.
type sessionState int

const (
	stateUnbound sessionState = iota
	stateBound
	stateClosed
)

// client implements the Client interface on top of a server pool.
type client struct {
	pool       ConnectionPool
	config     *ConnectionConfig
	conn       *PooledConnection
	state      sessionState
	logContext context.Context // Context with configured subsystems for logging
}

// NewClient creates a new LDAP client backed by a first-active server pool.
// No connection is opened until Connect is called.
func NewClient(ctx context.Context, config *ConnectionConfig, opts ...PoolOption) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	tflog.SubsystemDebug(ctx, "ldap", "Creating new LDAP client", map[string]any{
		"server_count": len(config.Servers),
		"port":         config.Port,
		"use_tls":      config.UseTLS,
		"timeout":      config.Timeout.String(),
	})

	start := time.Now()
	pool, err := NewConnectionPool(ctx, config, opts...)
	if err != nil {
		tflog.SubsystemError(ctx, "ldap", "Failed to create server pool", map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil, fmt.Errorf("failed to create server pool: %w", err)
	}

	return &client{
		pool:       pool,
		config:     config,
		logContext: ctx,
	}, nil
}

// Connect opens and binds a connection to the first active server.
func (c *client) Connect(ctx context.Context) error {
	if c.state == stateClosed {
		return errors.New("client is closed")
	}

	if c.Bound() {
		return nil
	}

	return LogOperation(c.logContext, "ldap", "connect", map[string]any{
		"server_count": len(c.config.Servers),
		"username":     c.config.Username,
	}, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return err
		}

		c.conn = conn
		event := "anonymous_session"
		if conn.bound {
			c.state = stateBound
			event = "authentication_success"
		}

		LogConnectionEvent(c.logContext, event, map[string]any{
			"server": ServerInfoToURL(conn.ServerInfo()),
		})
		return nil
	})
}

// Rebind drops the current connection and binds a fresh one from the pool.
// The returned error reports whether the new session is usable.
func (c *client) Rebind(ctx context.Context) error {
	if c.state == stateClosed {
		return errors.New("client is closed")
	}

	fields := make(map[string]any)
	if c.conn != nil {
		fields["previous_server"] = ServerInfoToURL(c.conn.ServerInfo())
		fields["session_age_ms"] = time.Since(c.conn.OpenedAt()).Milliseconds()
		c.pool.Release(c.conn)
		c.conn = nil
	}
	c.state = stateUnbound

	if err := c.Connect(ctx); err != nil {
		fields["error"] = err.Error()
		LogConnectionEvent(c.logContext, "rebind_failed", fields)
		return err
	}

	if !c.Bound() {
		return NewConnectionError("rebind did not produce a bound session", false, nil)
	}

	fields["server"] = ServerInfoToURL(c.conn.ServerInfo())
	LogConnectionEvent(c.logContext, "rebind_success", fields)
	return nil
}

// Bound reports whether the session holds a live, authenticated connection.
func (c *client) Bound() bool {
	return c.state == stateBound && c.conn != nil && c.conn.IsBound()
}

// Closed reports whether the session was closed or its connection dropped.
func (c *client) Closed() bool {
	if c.state == stateClosed {
		return true
	}
	return c.conn != nil && c.conn.conn.IsClosing()
}

// ServerInfo returns the server that serves the current session.
func (c *client) ServerInfo() *ServerInfo {
	if c.conn == nil {
		return nil
	}
	return c.conn.ServerInfo()
}

// Close closes the session and the pool.
func (c *client) Close() error {
	if c.state == stateClosed {
		return nil
	}

	if c.conn != nil {
		c.pool.Release(c.conn)
		c.conn = nil
	}
	c.state = stateClosed

	return c.pool.Close()
}

// Stats returns pool statistics.
func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// SearchWithPaging performs an LDAP search with automatic pagination and
// returns once every page has been collected.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("search request cannot be nil")
	}

	logCtx := c.logContext

	if !c.Bound() {
		return nil, NewConnectionError("search requires a bound session", false, nil)
	}

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}

	attributes := append([]string(nil), req.Attributes...)
	if req.Operational {
		attributes = append(attributes, OperationalAttributes)
	}

	start := time.Now()
	fields := map[string]any{
		"base_dn":    req.BaseDN,
		"filter":     req.Filter,
		"scope":      req.Scope.String(),
		"attributes": attributes,
		"time_limit": req.TimeLimit.String(),
		"page_size":  pageSize,
	}

	tflog.SubsystemDebug(logCtx, "ldap", "Starting paged search", fields)

	var allEntries []*ldap.Entry
	var referrals []string
	pagingControl := ldap.NewControlPaging(pageSize)
	pageNum := 0

	for {
		// Check if context was cancelled
		if err := ctx.Err(); err != nil {
			tflog.SubsystemWarn(logCtx, "ldap", "Paged search cancelled by context", map[string]any{
				"base_dn":         req.BaseDN,
				"pages_completed": pageNum,
				"entries_found":   len(allEntries),
				"context_error":   err.Error(),
			})
			return nil, err
		}

		pageNum++
		pageStart := time.Now()

		ldapReq := ldap.NewSearchRequest(
			req.BaseDN,
			int(req.Scope),
			int(req.DerefAliases),
			0, // No size limit when paging
			int(req.TimeLimit.Seconds()),
			false,
			req.Filter,
			attributes,
			[]ldap.Control{pagingControl},
		)

		result, err := c.conn.conn.Search(ldapReq)

		pageFields := map[string]any{
			"page_number":          pageNum,
			"total_entries_so_far": len(allEntries),
			"duration_ms":          time.Since(pageStart).Milliseconds(),
		}

		if err != nil {
			LogLDAPError(logCtx, "ldap", "paged_search", err, pageFields)
			if c.conn.conn.IsClosing() {
				LogConnectionEvent(logCtx, "connection_lost", map[string]any{
					"server": ServerInfoToURL(c.conn.ServerInfo()),
				})
			}
			return nil, fmt.Errorf("paged search failed: %w", NewLDAPError("search", err))
		}

		allEntries = append(allEntries, result.Entries...)
		referrals = append(referrals, result.Referrals...)

		pageFields["entries_in_page"] = len(result.Entries)
		pageFields["total_entries"] = len(allEntries)
		tflog.SubsystemTrace(logCtx, "ldap", "Completed search page", pageFields)

		// Check for more pages
		pagingResult := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
		responseControl, ok := pagingResult.(*ldap.ControlPaging)
		if !ok || len(responseControl.Cookie) == 0 {
			break
		}
		pagingControl.SetCookie(responseControl.Cookie)
	}

	totalDuration := time.Since(start)
	tflog.SubsystemInfo(logCtx, "ldap", "Paged search completed", map[string]any{
		"base_dn":         req.BaseDN,
		"filter":          req.Filter,
		"total_entries":   len(allEntries),
		"referrals":       len(referrals),
		"pages_processed": pageNum,
		"duration_ms":     totalDuration.Milliseconds(),
	})

	return &SearchResult{
		Entries:   allEntries,
		Referrals: referrals,
		Pages:     pageNum,
		Total:     len(allEntries),
	}, nil
}
