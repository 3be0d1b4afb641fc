package exporter

import (
	"context"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	ldapclient "github.com/isometry/ldap-csv-exporter/internal/ldap"
)

// Directory is the part of a session handle the exporter needs.
type Directory interface {
	Bound() bool
	SearchWithPaging(ctx context.Context, req *ldapclient.SearchRequest) (*ldapclient.SearchResult, error)
}

// Session is a Directory that can also be re-bound and closed.
type Session interface {
	Directory
	Closed() bool
	Rebind(ctx context.Context) error
	Close() error
	ServerInfo() *ldapclient.ServerInfo
	Stats() ldapclient.PoolStats
}

// Executor runs the export search against a directory session.
type Executor struct{}

// NewExecutor creates a new search executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Collect runs a paged subtree search and returns every matching entry. An
// absent or unbound session yields no entries and no error. Entries that carry
// no attributes are skipped.
func (e *Executor) Collect(ctx context.Context, dir Directory, req *ldapclient.SearchRequest) ([]Entry, error) {
	if dir == nil || !dir.Bound() {
		tflog.SubsystemWarn(ctx, "export", "Directory session is not bound, skipping search")
		return nil, nil
	}

	start := time.Now()
	result, err := dir.SearchWithPaging(ctx, req)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(result.Entries))
	skipped := 0
	for _, raw := range result.Entries {
		if raw == nil || len(raw.Attributes) == 0 {
			skipped++
			continue
		}
		entries = append(entries, FromLDAP(raw, req.Attributes))
	}

	tflog.SubsystemDebug(ctx, "export", "Search results collected", map[string]any{
		"entries":     len(entries),
		"skipped":     skipped,
		"referrals":   len(result.Referrals),
		"pages":       result.Pages,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return entries, nil
}
