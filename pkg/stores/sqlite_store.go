package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/notify"
	"github.com/openfroyo/mgmtcore/pkg/tree"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists the management model, the notification journal and
// the operation audit trail in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          zerolog.Logger
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "store").Logger(),
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// Persist replaces the persisted subtree at scope with snap. A nil snapshot
// deletes the subtree. It implements engine.Persister.
func (s *SQLiteStore) Persist(ctx context.Context, scope model.Address, snap *tree.Snapshot) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if scope.IsRoot() {
		_, err = tx.ExecContext(ctx, `DELETE FROM resources`)
	} else {
		prefix := scope.String() + "/"
		_, err = tx.ExecContext(ctx,
			`DELETE FROM resources WHERE address = ? OR substr(address, 1, length(?)) = ?`,
			scope.String(), prefix, prefix)
	}
	if err != nil {
		return fmt.Errorf("failed to delete subtree %s: %w", scope, err)
	}

	written := 0
	if snap != nil {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO resources (address, depth, model, updated_at) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		now := time.Now().UTC()
		err = snap.Walk(func(addr model.Address, attrs map[string]any) error {
			if attrs == nil {
				attrs = map[string]any{}
			}
			data, err := json.Marshal(attrs)
			if err != nil {
				return fmt.Errorf("failed to encode model of %s: %w", addr, err)
			}
			if _, err := stmt.ExecContext(ctx, addr.String(), addr.Len(), string(data), now); err != nil {
				return fmt.Errorf("failed to persist %s: %w", addr, err)
			}
			written++
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.logger.Debug().Str("scope", scope.String()).Int("resources", written).Msg("Model persisted")
	return nil
}

// ListResources returns every persisted resource ordered by depth and
// address.
func (s *SQLiteStore) ListResources(ctx context.Context) ([]*ResourceRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT address, depth, model, updated_at FROM resources ORDER BY depth, address`)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var out []*ResourceRow
	for rows.Next() {
		var (
			row  ResourceRow
			data string
		)
		if err := rows.Scan(&row.Address, &row.Depth, &data, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		v, err := decodeValue([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("invalid model of %s: %w", row.Address, err)
		}
		row.Model, _ = v.(map[string]any)
		out = append(out, &row)
	}
	return out, rows.Err()
}

// Restore replaces the content of t with the persisted model and returns the
// number of resources restored, root excluded.
func (s *SQLiteStore) Restore(ctx context.Context, t *tree.Tree) (int, error) {
	rows, err := s.ListResources(ctx)
	if err != nil {
		return 0, err
	}

	root := &tree.Snapshot{Model: map[string]any{}}
	byAddr := map[string]*tree.Snapshot{"/": root}
	count := 0
	for _, row := range rows {
		addr, err := model.ParseAddress(row.Address)
		if err != nil {
			return 0, fmt.Errorf("invalid persisted address %q: %w", row.Address, err)
		}
		attrs := row.Model
		if attrs == nil {
			attrs = map[string]any{}
		}
		if addr.IsRoot() {
			root.Model = attrs
			continue
		}
		parent, ok := byAddr[addr.Parent().String()]
		if !ok {
			return 0, fmt.Errorf("persisted resource %s has no parent", addr)
		}
		last, _ := addr.Last()
		snap := &tree.Snapshot{Address: addr, Model: attrs}
		if parent.Children == nil {
			parent.Children = make(map[string]map[string]*tree.Snapshot)
		}
		if parent.Children[last.Key] == nil {
			parent.Children[last.Key] = make(map[string]*tree.Snapshot)
		}
		parent.Children[last.Key][last.Value] = snap
		byAddr[addr.String()] = snap
		count++
	}

	if err := t.Restore(model.RootAddress(), root); err != nil {
		return 0, fmt.Errorf("failed to restore model: %w", err)
	}
	s.logger.Info().Int("resources", count).Msg("Model restored")
	return count, nil
}

// AppendNotification journals a notification.
func (s *SQLiteStore) AppendNotification(ctx context.Context, n *notify.Notification) error {
	var data *string
	if n.Data != nil {
		b, err := json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("failed to encode notification data: %w", err)
		}
		str := string(b)
		data = &str
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (resource, type, message, data, emitted_at) VALUES (?, ?, ?, ?, ?)`,
		n.Resource.String(), n.Type, n.Message, data, n.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}
	return nil
}

// ListNotifications returns journaled notifications in emission order.
func (s *SQLiteStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]*NotificationRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.Resource != "" && filter.Resource != "/" {
		prefix := strings.TrimSuffix(filter.Resource, "/") + "/"
		where = append(where, "(resource = ? OR substr(resource, 1, length(?)) = ?)")
		args = append(args, filter.Resource, prefix, prefix)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.AfterID > 0 {
		where = append(where, "id > ?")
		args = append(args, filter.AfterID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, resource, type, message, data, emitted_at FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*NotificationRecord
	for rows.Next() {
		var (
			rec  NotificationRecord
			data sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.Resource, &rec.Type, &rec.Message, &data, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		rec.Data = data.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// PruneNotifications keeps the newest keep journal entries and returns the
// number deleted.
func (s *SQLiteStore) PruneNotifications(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative")
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id <= (SELECT id FROM notifications ORDER BY id DESC LIMIT 1 OFFSET ?)`,
		keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune notifications: %w", err)
	}
	return res.RowsAffected()
}

// journal is the notification handler returned by NotificationSink.
type journal struct {
	store   *SQLiteStore
	timeout time.Duration
}

func (j *journal) HandleNotification(n *notify.Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.store.AppendNotification(ctx, n)
}

// NotificationSink returns a notification handler that journals every
// notification it receives.
func (s *SQLiteStore) NotificationSink() notify.Handler {
	return &journal{store: s, timeout: 5 * time.Second}
}

// CreateAuditEntry records a submitted operation.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (operation_id, operation, address, outcome, failure, reload_required, principal, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.OperationID,
		entry.Operation,
		entry.Address,
		entry.Outcome,
		entry.Failure,
		entry.ReloadRequired,
		entry.Principal,
		entry.Duration.Milliseconds(),
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}
	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries, newest first, optionally filtered by
// operation name.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, operation *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, operation_id, operation, address, outcome, failure, reload_required, principal, duration_ms, timestamp
		FROM audit
	`
	args := []any{}
	if operation != nil {
		query += " WHERE operation = ?"
		args = append(args, *operation)
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			entry      AuditEntry
			durationMS int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.OperationID,
			&entry.Operation,
			&entry.Address,
			&entry.Outcome,
			&entry.Failure,
			&entry.ReloadRequired,
			&entry.Principal,
			&durationMS,
			&entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// Stats summarizes the store content.
type Stats struct {
	Resources     int `json:"resources"`
	Notifications int `json:"notifications"`
	AuditEntries  int `json:"audit_entries"`
}

// Stats counts the stored rows per table.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	for _, c := range []struct {
		table string
		dest  *int
	}{
		{"resources", &st.Resources},
		{"notifications", &st.Notifications},
		{"audit", &st.AuditEntries},
	} {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}
	return st, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	var one int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
