package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/franckalain/plateswipe/internal/logger"
	"github.com/franckalain/plateswipe/internal/models"
)

// RedisDB implements Store on Redis. Each ingredient is a JSON string at <prefix>:ingredient:<key>;
// the hash <prefix>:names maps "<normalized name>\x1f<key>" fields to keys for name search.
type RedisDB struct {
	rdb    *goredis.Client
	prefix string
	log    *logger.Logger
}

const nameFieldSep = "\x1f"

// NewRedisDB connects to Redis and checks the connection
func NewRedisDB(ctx context.Context, opts Options, log *logger.Logger) (*RedisDB, error) {
	if log == nil {
		log = logger.Nop()
	}
	addr := strings.TrimSpace(opts.RedisAddr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	prefix := strings.TrimSpace(opts.RedisPrefix)
	if prefix == "" {
		prefix = "plateswipe"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.RedisPassword,
		DB:          opts.RedisDB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("redis store ready", "addr", addr, "prefix", prefix)
	return &RedisDB{rdb: rdb, prefix: prefix, log: log.With("component", "RedisStore")}, nil
}

func (r *RedisDB) itemKey(key string) string { return r.prefix + ":ingredient:" + key }
func (r *RedisDB) namesKey() string         { return r.prefix + ":names" }

// Get retrieves an ingredient by exact barcode
func (r *RedisDB) Get(ctx context.Context, barcode int64) (*models.Ingredient, error) {
	key := (&models.Ingredient{BarCode: &barcode}).Key()
	ing, err := r.load(ctx, r.rdb, key)
	if err != nil {
		return nil, fmt.Errorf("get ingredient %d: %w", barcode, err)
	}
	return ing, nil
}

// Search scans the name index for names containing name, exact matches first
func (r *RedisDB) Search(ctx context.Context, name string, limit int) ([]*models.Ingredient, error) {
	norm := models.NormalizeName(name)
	if norm == "" || limit <= 0 {
		return nil, nil
	}

	type hit struct {
		name string
		key  string
	}
	var hits []hit
	match := "*" + escapeGlob(norm) + "*"
	var cursor uint64
	for {
		kvs, next, err := r.rdb.HScan(ctx, r.namesKey(), cursor, match, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan name index: %w", err)
		}
		for i := 0; i+1 < len(kvs); i += 2 {
			field := kvs[i]
			idx := strings.Index(field, nameFieldSep)
			if idx < 0 {
				continue
			}
			// the glob may have matched inside the key part
			if n := field[:idx]; strings.Contains(n, norm) {
				hits = append(hits, hit{name: n, key: kvs[i+1]})
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		ei, ej := hits[i].name == norm, hits[j].name == norm
		if ei != ej {
			return ei
		}
		return hits[i].name < hits[j].name
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	if len(hits) == 0 {
		return nil, nil
	}

	keys := make([]string, len(hits))
	for i, h := range hits {
		keys[i] = r.itemKey(h.key)
	}
	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load search results: %w", err)
	}

	results := make([]*models.Ingredient, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry outlived its record
			r.log.Debug("stale name index entry", "key", hits[i].key)
			continue
		}
		var ing models.Ingredient
		if err := json.Unmarshal([]byte(raw), &ing); err != nil {
			return nil, fmt.Errorf("decode ingredient %s: %w", hits[i].key, err)
		}
		results = append(results, &ing)
	}
	return results, nil
}

const maxUpsertRetries = 16

// Add upserts one ingredient, keeping the UID of an existing record.
// The read and write run under WATCH so concurrent upserts of one key retry.
func (r *RedisDB) Add(ctx context.Context, ing *models.Ingredient) error {
	if err := ing.Validate("redis"); err != nil {
		return err
	}
	key := ing.Key()
	itemKey := r.itemKey(key)
	candidate := ing.UID
	if candidate == "" {
		candidate = uuid.New().String()
	}

	write := func(tx *goredis.Tx) error {
		existing, err := r.load(ctx, tx, key)
		if err != nil {
			return err
		}
		rec := *ing
		rec.UID = candidate
		if existing != nil {
			rec.UID = existing.UID
		}
		raw, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("encode ingredient %s: %w", key, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if existing != nil && models.NormalizeName(existing.Name) != models.NormalizeName(rec.Name) {
				pipe.HDel(ctx, r.namesKey(), nameField(existing))
			}
			pipe.Set(ctx, itemKey, raw, 0)
			pipe.HSet(ctx, r.namesKey(), nameField(&rec), key)
			return nil
		})
		if err != nil {
			return err
		}
		ing.UID = rec.UID
		return nil
	}

	for i := 0; i < maxUpsertRetries; i++ {
		err := r.rdb.Watch(ctx, write, itemKey)
		if errors.Is(err, goredis.TxFailedErr) {
			r.log.Debug("upsert contended, retrying", "key", key, "attempt", i+1)
			continue
		}
		if err != nil {
			return fmt.Errorf("upsert ingredient %s: %w", key, err)
		}
		return nil
	}
	return fmt.Errorf("upsert ingredient %s: %w", key, goredis.TxFailedErr)
}

// AddAll upserts the ingredients one at a time. A failing entry does not
// stop the rest; the per-entry errors are joined.
func (r *RedisDB) AddAll(ctx context.Context, ings []*models.Ingredient) error {
	var errs []error
	for _, ing := range ings {
		if err := r.Add(ctx, ing); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the redis connection
func (r *RedisDB) Close() error {
	return r.rdb.Close()
}

func (r *RedisDB) load(ctx context.Context, c goredis.Cmdable, key string) (*models.Ingredient, error) {
	raw, err := c.Get(ctx, r.itemKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ing models.Ingredient
	if err := json.Unmarshal(raw, &ing); err != nil {
		return nil, fmt.Errorf("decode ingredient %s: %w", key, err)
	}
	return &ing, nil
}

func nameField(ing *models.Ingredient) string {
	return models.NormalizeName(ing.Name) + nameFieldSep + ing.Key()
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
