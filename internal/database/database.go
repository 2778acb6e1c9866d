package database

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/franckalain/plateswipe/internal/logger"
	"github.com/franckalain/plateswipe/internal/models"
)

//go:embed schema.sql
var schemaFS embed.FS

// Store is the primary ingredient registry. Get returns (nil, nil) when nothing matches;
// Add and AddAll upsert by the ingredient's natural key and fill in its UID.
type Store interface {
	Get(ctx context.Context, barcode int64) (*models.Ingredient, error)
	Search(ctx context.Context, name string, limit int) ([]*models.Ingredient, error)
	Add(ctx context.Context, ingredient *models.Ingredient) error
	AddAll(ctx context.Context, ingredients []*models.Ingredient) error
	Close() error
}

// Options configures the store backends
type Options struct {
	Path          string // sqlite file
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// Open creates the store of the given type ("sqlite" or "redis")
func Open(ctx context.Context, storeType string, opts Options, log *logger.Logger) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(storeType)) {
	case "", "sqlite":
		return NewSQLiteDB(opts.Path, log)
	case "redis":
		return NewRedisDB(ctx, opts, log)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}

// SQLiteDB implements Store on a local SQLite file
type SQLiteDB struct {
	db  *sql.DB
	log *logger.Logger
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string, log *logger.Logger) (*SQLiteDB, error) {
	if log == nil {
		log = logger.Nop()
	}
	db, err := sql.Open("sqlite", withBusyTimeout(dbPath))
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// WAL lets readers proceed while a backfill is writing
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	log.Info("sqlite store ready", "path", dbPath)
	return &SQLiteDB{db: db, log: log.With("component", "SQLiteStore")}, nil
}

// withBusyTimeout sets busy_timeout on every pooled connection, not only the first one
func withBusyTimeout(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=busy_timeout(5000)"
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}
	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}
	return nil
}

const selectColumns = `uid, barcode, name, brands, quantity, categories, images`

// Get retrieves an ingredient by exact barcode
func (s *SQLiteDB) Get(ctx context.Context, barcode int64) (*models.Ingredient, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM ingredients WHERE barcode = ?`, barcode)
	ing, err := scanIngredient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ingredient %d: %w", barcode, err)
	}
	return ing, nil
}

// Search returns up to limit ingredients whose name contains name, exact matches first
func (s *SQLiteDB) Search(ctx context.Context, name string, limit int) ([]*models.Ingredient, error) {
	norm := models.NormalizeName(name)
	if norm == "" || limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT ` + selectColumns + `
		FROM ingredients
		WHERE name_norm LIKE ? ESCAPE '\'
		ORDER BY name_norm = ? DESC, name_norm ASC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, "%"+escapeLike(norm)+"%", norm, limit)
	if err != nil {
		return nil, fmt.Errorf("search ingredients %q: %w", name, err)
	}
	defer rows.Close()

	var results []*models.Ingredient
	for rows.Next() {
		ing, err := scanIngredient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ingredient: %w", err)
		}
		results = append(results, ing)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search ingredients %q: %w", name, err)
	}
	return results, nil
}

// Add upserts one ingredient
func (s *SQLiteDB) Add(ctx context.Context, ing *models.Ingredient) error {
	return upsert(ctx, s.db, ing)
}

// AddAll upserts each ingredient on its own. A failing entry does not
// undo the ones already written; the per-entry errors are joined.
func (s *SQLiteDB) AddAll(ctx context.Context, ings []*models.Ingredient) error {
	var errs []error
	for _, ing := range ings {
		if err := upsert(ctx, s.db, ing); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func upsert(ctx context.Context, q queryer, ing *models.Ingredient) error {
	if err := ing.Validate("sqlite"); err != nil {
		return err
	}
	categories, err := json.Marshal(nonNilCategories(ing.Categories))
	if err != nil {
		return fmt.Errorf("encode categories: %w", err)
	}
	images, err := json.Marshal(nonNilImages(ing.Images))
	if err != nil {
		return fmt.Errorf("encode images: %w", err)
	}

	uid := ing.UID
	if uid == "" {
		uid = uuid.New().String()
	}
	var barcode any
	if ing.BarCode != nil {
		barcode = *ing.BarCode
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	query := `
		INSERT INTO ingredients (
			key, uid, barcode, name, name_norm, brands, quantity,
			categories, images, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			barcode = excluded.barcode,
			name = excluded.name,
			name_norm = excluded.name_norm,
			brands = excluded.brands,
			quantity = excluded.quantity,
			categories = excluded.categories,
			images = excluded.images,
			updated_at = excluded.updated_at
		RETURNING uid
	`
	err = q.QueryRowContext(ctx, query,
		ing.Key(), uid, barcode, ing.Name, models.NormalizeName(ing.Name),
		ing.Brands, ing.Quantity, string(categories), string(images), now, now,
	).Scan(&ing.UID)
	if err != nil {
		return fmt.Errorf("upsert ingredient %s: %w", ing.Key(), err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIngredient(row rowScanner) (*models.Ingredient, error) {
	var (
		ing        models.Ingredient
		barcode    sql.NullInt64
		categories string
		images     string
	)
	if err := row.Scan(&ing.UID, &barcode, &ing.Name, &ing.Brands, &ing.Quantity, &categories, &images); err != nil {
		return nil, err
	}
	if barcode.Valid {
		ing.BarCode = models.BarCodePtr(barcode.Int64)
	}
	if err := json.Unmarshal([]byte(categories), &ing.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if err := json.Unmarshal([]byte(images), &ing.Images); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}
	if len(ing.Categories) == 0 {
		ing.Categories = nil
	}
	if len(ing.Images) == 0 {
		ing.Images = nil
	}
	return &ing, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nonNilCategories(c []string) []string {
	if c == nil {
		return []string{}
	}
	return c
}

func nonNilImages(m map[models.ImageSize]string) map[models.ImageSize]string {
	if m == nil {
		return map[models.ImageSize]string{}
	}
	return m
}
