package ldap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// fakeConn is an in-memory Conn that serves canned search pages.
type fakeConn struct {
	mu sync.Mutex

	bindErr   error
	searchErr error
	pages     []*ldap.SearchResult

	// dropOnSearch marks the connection as closing once a search reaches it,
	// the way a server dropping the session mid-search would.
	dropOnSearch bool

	binds    []string
	requests []*ldap.SearchRequest
	cookies  [][]byte
	timeout  time.Duration
	closing  bool
	closed   bool
}

func (f *fakeConn) Bind(username, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.binds = append(f.binds, username)
	return f.bindErr
}

func (f *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	var cookie []byte
	if ctrl, ok := ldap.FindControl(req.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging); ok {
		cookie = append([]byte(nil), ctrl.Cookie...)
	}
	f.cookies = append(f.cookies, cookie)

	if f.dropOnSearch {
		f.closing = true
	}
	if f.searchErr != nil {
		return nil, f.searchErr
	}

	idx := len(f.requests) - 1
	if idx >= len(f.pages) {
		return nil, fmt.Errorf("unexpected search page %d", idx+1)
	}
	return f.pages[idx], nil
}

func (f *fakeConn) SetTimeout(timeout time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.timeout = timeout
}

func (f *fakeConn) IsClosing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closing || f.closed
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	return nil
}

// fakeDirectory hands out fakeConns per host and records every dial.
type fakeDirectory struct {
	mu     sync.Mutex
	down   map[string]error
	conns  map[string][]*fakeConn
	newFn  func(host string) *fakeConn
	dialed []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		down:  make(map[string]error),
		conns: make(map[string][]*fakeConn),
		newFn: func(string) *fakeConn { return &fakeConn{} },
	}
}

func (d *fakeDirectory) dial(ctx context.Context, server *ServerInfo, _ *ConnectionConfig) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.dialed = append(d.dialed, server.Host)
	if err, ok := d.down[server.Host]; ok {
		return nil, fmt.Errorf("failed to connect to %s: %w", server.Host, err)
	}

	conn := d.newFn(server.Host)
	d.conns[server.Host] = append(d.conns[server.Host], conn)
	return conn, nil
}

func (d *fakeDirectory) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.dialed)
}

// networkError mimics the error go-ldap returns when a server is unreachable.
func networkError(msg string) error {
	return ldap.NewError(ldap.ErrorNetwork, errors.New(msg))
}

// testConfig returns a pool configuration suitable for unit tests.
func testConfig(servers ...string) *ConnectionConfig {
	config := DefaultConfig()
	config.Servers = servers
	config.Username = "cn=reader,dc=example,dc=com"
	config.Password = "secret"
	config.CycleDelay = 0
	return config
}

// pagedResult builds a search page, cookie empty on the last page.
func pagedResult(cookie string, entries ...*ldap.Entry) *ldap.SearchResult {
	result := &ldap.SearchResult{Entries: entries}
	if cookie != "" {
		paging := ldap.NewControlPaging(DefaultPageSize)
		paging.SetCookie([]byte(cookie))
		result.Controls = []ldap.Control{paging}
	}
	return result
}
