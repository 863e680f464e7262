package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

type PostgresConfig struct {
	DSN          string        `split_words:"true"`
	Timeout      time.Duration `split_words:"true" default:"5s"`
	EnsureSchema bool          `split_words:"true" default:"true"`
}

func (c PostgresConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// runOutcome is one row of the run ledger. Transcripts are not stored.
type runOutcome struct {
	bun.BaseModel `bun:"table:run_outcomes,alias:ro"`

	RunID      string    `bun:"run_id,pk"`
	TaskID     string    `bun:"task_id,notnull"`
	Flow       string    `bun:"flow,notnull"`
	Mode       string    `bun:"mode,notnull"`
	Task       string    `bun:"task,notnull"`
	Status     string    `bun:"status,notnull"`
	Content    string    `bun:"content"`
	Turns      int       `bun:"turns,notnull"`
	Error      string    `bun:"error"`
	StartedAt  time.Time `bun:"started_at,notnull"`
	FinishedAt time.Time `bun:"finished_at,notnull"`
}

func newRunOutcome(o contractx.Outcome) *runOutcome {
	return &runOutcome{
		RunID:      o.RunID,
		TaskID:     o.Task.ID,
		Flow:       o.Flow,
		Mode:       string(o.Mode),
		Task:       o.Task.Input,
		Status:     string(o.Status),
		Content:    o.Content,
		Turns:      o.Turns,
		Error:      o.Error,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
}

// PostgresRecorder appends every task outcome to the run_outcomes table.
type PostgresRecorder struct {
	db      *bun.DB
	timeout time.Duration
}

var _ contractx.Recorder = (*PostgresRecorder)(nil)

func NewPostgresRecorder(ctx context.Context, cfg PostgresConfig) (*PostgresRecorder, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("%w: recorder dsn is required", contractx.ErrConfiguration)
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	r := newPostgresRecorder(bun.NewDB(sqldb, pgdialect.New()), cfg.Timeout)

	if cfg.EnsureSchema {
		if err := r.EnsureSchema(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

func newPostgresRecorder(db *bun.DB, timeout time.Duration) *PostgresRecorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresRecorder{db: db, timeout: timeout}
}

func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if _, err := r.createTableQuery().Exec(ctx); err != nil {
		return fmt.Errorf("create run_outcomes table: %w", err)
	}
	return nil
}

func (r *PostgresRecorder) Record(ctx context.Context, outcome contractx.Outcome) error {
	if strings.TrimSpace(outcome.RunID) == "" {
		return errors.New("outcome run id is required")
	}

	// The ledger write outlives a cancelled task.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if _, err := r.insertQuery(outcome).Exec(ctx); err != nil {
		return fmt.Errorf("insert run outcome run_id=%s: %w", outcome.RunID, err)
	}
	return nil
}

func (r *PostgresRecorder) Close() error {
	return r.db.Close()
}

func (r *PostgresRecorder) createTableQuery() *bun.CreateTableQuery {
	return r.db.NewCreateTable().Model((*runOutcome)(nil)).IfNotExists()
}

func (r *PostgresRecorder) insertQuery(outcome contractx.Outcome) *bun.InsertQuery {
	return r.db.NewInsert().Model(newRunOutcome(outcome))
}
