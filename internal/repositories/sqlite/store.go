// Package sqlite provides a SQLite-backed authoritative collection store for single-host runs.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
	"github.com/navajothi-jewels/storefront-sync/internal/platform/textutil"
	"github.com/navajothi-jewels/storefront-sync/internal/repositories"
)

const memoryPath = ":memory:"

//go:embed schema.sql
var schema string

// Store persists collection entries in SQLite.
type Store struct {
	sqlDB  *sql.DB
	logger *zap.Logger
	clock  func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithLogger sets the logger used for skipped rows.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for added_at and updated_at.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path (":memory:" for a private in-memory database) and applies the schema.
func Open(path string, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := memoryPath
	if path != memoryPath {
		dsn = filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == memoryPath {
		// every connection to :memory: is a separate database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	store := &Store{sqlDB: sqlDB, logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// List returns the scope's entries ordered by added_at, then key.
func (s *Store) List(ctx context.Context, scope repositories.Scope) ([]domain.CollectionEntry, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT item_id, variant, quantity, weight_grams, surcharge_percent, name, sku, image_url, added_at
		   FROM collection_entries
		  WHERE identity = ? AND kind = ?
		  ORDER BY added_at, item_id, variant`,
		scope.UID, string(scope.Kind),
	)
	if err != nil {
		return nil, unavailable("sqlite.collections.list", err)
	}
	defer rows.Close()

	var entries []domain.CollectionEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			s.logger.Warn("collections.malformed_row",
				zap.String("uid", scope.UID),
				zap.String("collection", string(scope.Kind)),
				zap.Error(err),
			)
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite.collections.list", err)
	}
	return entries, nil
}

// Get returns a single entry.
func (s *Store) Get(ctx context.Context, scope repositories.Scope, key domain.EntryKey) (domain.CollectionEntry, error) {
	if err := s.ready(ctx); err != nil {
		return domain.CollectionEntry{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT item_id, variant, quantity, weight_grams, surcharge_percent, name, sku, image_url, added_at
		   FROM collection_entries
		  WHERE identity = ? AND kind = ? AND item_id = ? AND variant = ?`,
		scope.UID, string(scope.Kind), key.ItemID, string(key.Variant),
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CollectionEntry{}, repositories.ErrNotFound("sqlite.collections.get", key)
	}
	if err != nil {
		return domain.CollectionEntry{}, fmt.Errorf("sqlite.collections.get: %w", err)
	}
	return entry, nil
}

// Insert creates an entry. The UNIQUE constraint on the composite key reports duplicates as conflicts.
func (s *Store) Insert(ctx context.Context, scope repositories.Scope, entry domain.CollectionEntry) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if entry.Key.IsZero() {
		return fmt.Errorf("item id is required")
	}
	now := s.clock().UTC()
	addedAt := entry.AddedAt.UTC()
	if entry.AddedAt.IsZero() {
		addedAt = now
	}
	display := textutil.SanitizeDisplay(entry.Display)

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO collection_entries (
		   identity,
		   kind,
		   item_id,
		   variant,
		   quantity,
		   weight_grams,
		   surcharge_percent,
		   name,
		   sku,
		   image_url,
		   added_at,
		   updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scope.UID,
		string(scope.Kind),
		strings.TrimSpace(entry.Key.ItemID),
		string(entry.Key.Variant),
		entry.Quantity,
		entry.WeightGrams,
		entry.SurchargePercent,
		display.Name,
		display.SKU,
		display.ImageURL,
		toMillis(addedAt),
		toMillis(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrConflict("sqlite.collections.insert", entry.Key)
		}
		return unavailable("sqlite.collections.insert", err)
	}
	return nil
}

// UpdateQuantity overwrites the quantity of an existing entry.
func (s *Store) UpdateQuantity(ctx context.Context, scope repositories.Scope, key domain.EntryKey, quantity int) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE collection_entries
		    SET quantity = ?, updated_at = ?
		  WHERE identity = ? AND kind = ? AND item_id = ? AND variant = ?`,
		quantity, toMillis(s.clock()), scope.UID, string(scope.Kind), key.ItemID, string(key.Variant),
	)
	if err != nil {
		return unavailable("sqlite.collections.update_quantity", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return unavailable("sqlite.collections.update_quantity", err)
	}
	if affected == 0 {
		return repositories.ErrNotFound("sqlite.collections.update_quantity", key)
	}
	return nil
}

// Delete removes an entry; deleting a missing entry succeeds.
func (s *Store) Delete(ctx context.Context, scope repositories.Scope, key domain.EntryKey) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM collection_entries
		  WHERE identity = ? AND kind = ? AND item_id = ? AND variant = ?`,
		scope.UID, string(scope.Kind), key.ItemID, string(key.Variant),
	); err != nil {
		return unavailable("sqlite.collections.delete", err)
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.CollectionEntry, error) {
	var (
		itemID, variant, name, sku, imageURL string
		quantity                             int
		weight, surcharge                    float64
		addedAt                              int64
	)
	if err := row.Scan(&itemID, &variant, &quantity, &weight, &surcharge, &name, &sku, &imageURL, &addedAt); err != nil {
		return domain.CollectionEntry{}, err
	}
	key := domain.NewEntryKey(itemID, variant)
	if key.IsZero() {
		return domain.CollectionEntry{}, fmt.Errorf("row without item id")
	}
	if quantity < 0 || weight < 0 {
		return domain.CollectionEntry{}, fmt.Errorf("row %s has negative quantity or weight", key)
	}
	return domain.CollectionEntry{
		Key:              key,
		Quantity:         quantity,
		WeightGrams:      weight,
		SurchargePercent: surcharge,
		Display:          textutil.SanitizeDisplay(domain.EntryDisplay{Name: name, SKU: sku, ImageURL: imageURL}),
		AddedAt:          fromMillis(addedAt),
	}, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") &&
		strings.Contains(message, "collection_entries.")
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &repositories.StoreError{Op: op, Err: err, Unavailable: true}
}

var _ repositories.CollectionRepository = (*Store)(nil)
