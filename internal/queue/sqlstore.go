package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sendrotor/sendrotor/internal/plan"
)

// SQLConfig selects and configures the SQL dead-letter backend.
type SQLConfig struct {
	// Driver is one of "sqlite3", "mysql", "postgres".
	Driver string `toml:"driver" json:"driver"`
	// DSN is the driver-specific connection string.
	DSN string `toml:"dsn" json:"dsn"`
}

// SQLDeadLetterStore persists dead-letter entries in a relational database so
// they survive process restarts. Attempt histories are stored as JSON
// alongside the indexed item columns.
type SQLDeadLetterStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// NewSQLDeadLetterStore opens the database and ensures the schema exists.
func NewSQLDeadLetterStore(config SQLConfig) (*SQLDeadLetterStore, error) {
	switch config.Driver {
	case "sqlite3", "mysql", "postgres":
	default:
		return nil, fmt.Errorf("unsupported dead letter store driver %q", config.Driver)
	}

	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening dead letter store: %w", err)
	}

	s := &SQLDeadLetterStore{
		db:     db,
		driver: config.Driver,
		logger: slog.Default().With("component", "dlq-store", "driver", config.Driver),
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLDeadLetterStore) initSchema() error {
	timeType := "TIMESTAMP"
	if s.driver == "sqlite3" {
		timeType = "DATETIME"
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS dead_letters (
			item_id          VARCHAR(64) PRIMARY KEY,
			tenant_id        VARCHAR(64) NOT NULL,
			tier             VARCHAR(16) NOT NULL,
			kind             VARCHAR(16) NOT NULL,
			target           VARCHAR(320) NOT NULL,
			payload          TEXT NOT NULL,
			rotation_group   VARCHAR(64) NOT NULL DEFAULT '',
			priority         INTEGER NOT NULL,
			attempt_count    INTEGER NOT NULL,
			created_at       %s NOT NULL,
			dead_lettered_at %s NOT NULL,
			reason           VARCHAR(64) NOT NULL,
			attempts         TEXT NOT NULL
		)`, timeType, timeType)

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating dead_letters table: %w", err)
	}

	// index creation is best effort across drivers
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_dead_letters_tenant_time ON dead_letters (tenant_id, dead_lettered_at)`); err != nil {
		s.logger.Debug("index creation skipped", "error", err)
	}

	return nil
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLDeadLetterStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// Write inserts one entry. The primary key makes entries write-once.
func (s *SQLDeadLetterStore) Write(ctx context.Context, entry DeadLetterEntry) error {
	attempts, err := json.Marshal(entry.Attempts)
	if err != nil {
		return fmt.Errorf("encoding attempt history: %w", err)
	}

	query := s.rebind(`
		INSERT INTO dead_letters
			(item_id, tenant_id, tier, kind, target, payload, rotation_group, priority, attempt_count, created_at, dead_lettered_at, reason, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = s.db.ExecContext(ctx, query,
		entry.Item.ID,
		entry.Item.TenantID,
		string(entry.Item.Tier),
		string(entry.Item.Kind),
		entry.Item.Target,
		string(entry.Item.Payload),
		entry.Item.RotationGroup,
		entry.Item.Priority,
		entry.Item.AttemptCount,
		entry.Item.CreatedAt.UTC(),
		entry.DeadLetteredAt.UTC(),
		string(entry.Reason),
		string(attempts),
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter entry %s: %w", entry.Item.ID, err)
	}

	return nil
}

// Get retrieves one entry by work item id.
func (s *SQLDeadLetterStore) Get(ctx context.Context, workItemID string) (DeadLetterEntry, error) {
	query := s.rebind(`
		SELECT item_id, tenant_id, tier, kind, target, payload, rotation_group, priority, attempt_count, created_at, dead_lettered_at, reason, attempts
		FROM dead_letters WHERE item_id = ?`)

	entry, err := s.scanEntry(s.db.QueryRowContext(ctx, query, workItemID))
	if err == sql.ErrNoRows {
		return DeadLetterEntry{}, fmt.Errorf("dead letter entry for item %s: %w", workItemID, ErrItemNotFound)
	}
	if err != nil {
		return DeadLetterEntry{}, fmt.Errorf("loading dead letter entry %s: %w", workItemID, err)
	}
	return entry, nil
}

// List returns entries matching the query, newest first.
func (s *SQLDeadLetterStore) List(ctx context.Context, query DLQQuery) ([]DeadLetterEntry, error) {
	var (
		conds []string
		args  []interface{}
	)
	if query.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, query.TenantID)
	}
	if !query.Since.IsZero() {
		conds = append(conds, "dead_lettered_at >= ?")
		args = append(args, query.Since.UTC())
	}
	if !query.Until.IsZero() {
		conds = append(conds, "dead_lettered_at <= ?")
		args = append(args, query.Until.UTC())
	}

	stmt := `
		SELECT item_id, tenant_id, tier, kind, target, payload, rotation_group, priority, attempt_count, created_at, dead_lettered_at, reason, attempts
		FROM dead_letters`
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	stmt += " ORDER BY dead_lettered_at DESC"
	if query.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(stmt), args...)
	if err != nil {
		return nil, fmt.Errorf("listing dead letter entries: %w", err)
	}
	defer rows.Close()

	var entries []DeadLetterEntry
	for rows.Next() {
		entry, err := s.scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dead letter entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Delete removes an entry, used by manual requeue.
func (s *SQLDeadLetterStore) Delete(ctx context.Context, workItemID string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM dead_letters WHERE item_id = ?`), workItemID)
	if err != nil {
		return fmt.Errorf("deleting dead letter entry %s: %w", workItemID, err)
	}

	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("dead letter entry for item %s: %w", workItemID, ErrItemNotFound)
	}
	return nil
}

// Close releases the database handle.
func (s *SQLDeadLetterStore) Close() error {
	return s.db.Close()
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLDeadLetterStore) scanEntry(row rowScanner) (DeadLetterEntry, error) {
	var (
		entry       DeadLetterEntry
		tier        string
		kind        string
		payload     string
		reason      string
		attemptsRaw string
	)

	err := row.Scan(
		&entry.Item.ID,
		&entry.Item.TenantID,
		&tier,
		&kind,
		&entry.Item.Target,
		&payload,
		&entry.Item.RotationGroup,
		&entry.Item.Priority,
		&entry.Item.AttemptCount,
		&entry.Item.CreatedAt,
		&entry.DeadLetteredAt,
		&reason,
		&attemptsRaw,
	)
	if err != nil {
		return DeadLetterEntry{}, err
	}

	entry.Item.Tier = plan.Tier(tier)
	entry.Item.Kind = Kind(kind)
	if payload != "" {
		entry.Item.Payload = []byte(payload)
	}
	entry.Reason = DeadLetterReason(reason)

	if err := json.Unmarshal([]byte(attemptsRaw), &entry.Attempts); err != nil {
		return DeadLetterEntry{}, fmt.Errorf("decoding attempt history: %w", err)
	}
	return entry, nil
}
