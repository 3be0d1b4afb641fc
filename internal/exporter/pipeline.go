package exporter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/ldap-csv-exporter/internal/config"
	ldapclient "github.com/isometry/ldap-csv-exporter/internal/ldap"
	"github.com/isometry/ldap-csv-exporter/internal/logging"
)

// ConnectFunc opens a bound directory session for cfg.
type ConnectFunc func(ctx context.Context, cfg *config.Config) (Session, error)

// DialSession connects to the first active server of cfg and binds.
func DialSession(ctx context.Context, cfg *config.Config) (Session, error) {
	return NewSessionDialer()(ctx, cfg)
}

// NewSessionDialer returns a ConnectFunc whose server pools are built with opts.
func NewSessionDialer(opts ...ldapclient.PoolOption) ConnectFunc {
	return func(ctx context.Context, cfg *config.Config) (Session, error) {
		client, err := ldapclient.NewClient(ctx, cfg.ConnectionConfig(), opts...)
		if err != nil {
			return nil, err
		}

		if err := client.Connect(ctx); err != nil {
			fields := client.Stats().LogFields()
			fields["error"] = err.Error()
			tflog.SubsystemError(ctx, "pool", "No directory server accepted the session", fields)

			_ = client.Close()
			return nil, err
		}

		return client, nil
	}
}

// Result describes a completed run.
type Result struct {
	RunID   string
	Server  string // Server that answered the search
	Entries int    // Entries returned by the search
	Retries int    // Re-bind and search retries performed
	Written WriteStats
}

// Pipeline runs the connect, search and write stages in order.
type Pipeline struct {
	Connect  ConnectFunc
	Executor *Executor
}

// NewPipeline returns a pipeline that talks to a real directory.
func NewPipeline() *Pipeline {
	return &Pipeline{
		Connect:  DialSession,
		Executor: NewExecutor(),
	}
}

// Run performs one export. Errors are *StageError values. An empty bind
// password ends the run before any connection is attempted and without
// touching the output file.
func (p *Pipeline) Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	result := &Result{RunID: uuid.NewString()}

	for _, subsystem := range logging.Subsystems {
		ctx = tflog.SubsystemSetField(ctx, subsystem, "run_id", result.RunID)
	}

	if err := cfg.Validate(); err != nil {
		return result, stageError(StageConfig, err)
	}

	tflog.SubsystemDebug(ctx, "config", "Export configuration", cfg.LogFields())

	if cfg.BindPassword == "" {
		tflog.SubsystemWarn(ctx, "export", "Bind password is empty, nothing to do")
		return result, nil
	}

	start := time.Now()

	session, err := p.Connect(ctx, cfg)
	if err != nil {
		return result, stageError(StageConnect, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			tflog.SubsystemWarn(ctx, "export", "Failed to close directory session", map[string]any{
				"error": err.Error(),
			})
		}
	}()

	if !session.Bound() {
		tflog.SubsystemError(ctx, "export", "Directory session is not bound", session.Stats().LogFields())
		return result, stageError(StageConnect, ErrNotBound)
	}

	tflog.SubsystemInfo(ctx, "export", "Directory session opened", session.Stats().LogFields())

	entries, err := p.search(ctx, session, cfg, result)
	if err != nil {
		logSearchFailure(ctx, session, cfg, err)
		return result, stageError(StageSearch, err)
	}
	result.Entries = len(entries)
	if info := session.ServerInfo(); info != nil {
		result.Server = ldapclient.ServerInfoToURL(info)
	}

	stats, err := WriteCSV(ctx, cfg.CSVPath, entries, WriteOptions{
		MissingPolicy: cfg.MissingPolicy,
		BOM:           cfg.CSVBOM,
	})
	result.Written = stats
	if err != nil {
		return result, stageError(StageWrite, err)
	}

	tflog.SubsystemInfo(ctx, "export", "Export completed", map[string]any{
		"server":      result.Server,
		"entries":     result.Entries,
		"rows":        stats.Rows,
		"skipped":     stats.Skipped,
		"retries":     result.Retries,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return result, nil
}

// search runs the export search. When it fails on a dropped session or with a
// retryable error, the session is re-bound and the search repeated, at most
// cfg.SearchRetries times. A re-bind only counts when it yields a bound session.
func (p *Pipeline) search(ctx context.Context, session Session, cfg *config.Config, result *Result) ([]Entry, error) {
	req := cfg.SearchRequest(Attributes)

	entries, err := p.Executor.Collect(ctx, session, req)
	for attempt := 1; err != nil && attempt <= cfg.SearchRetries; attempt++ {
		if !session.Closed() && !ldapclient.IsRetryableError(err) {
			break
		}

		tflog.SubsystemWarn(ctx, "export", "Search failed, re-binding", map[string]any{
			"attempt":     attempt,
			"max_retries": cfg.SearchRetries,
			"error":       err.Error(),
		})

		if rebindErr := session.Rebind(ctx); rebindErr != nil {
			return nil, fmt.Errorf("%w (re-bind failed: %v)", err, rebindErr)
		}
		if !session.Bound() {
			return nil, fmt.Errorf("%w (re-bind did not produce a bound session)", err)
		}

		result.Retries++
		entries, err = p.Executor.Collect(ctx, session, req)
	}

	return entries, err
}

// logSearchFailure reports a failed search with the pool state. Referrals are
// not followed, so a referral means the base DN lives in another directory.
func logSearchFailure(ctx context.Context, session Session, cfg *config.Config, err error) {
	fields := session.Stats().LogFields()
	fields["base_dn"] = cfg.BaseDN
	fields["category"] = string(ldapclient.GetErrorCategory(err))
	fields["error"] = err.Error()

	if ldapclient.IsReferralError(err) {
		tflog.SubsystemError(ctx, "export", "Search was referred to another directory", fields)
		return
	}
	tflog.SubsystemError(ctx, "export", "Search failed", fields)
}
