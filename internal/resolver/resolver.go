// Package resolver looks ingredients up in the primary store first and falls back to an external
// source on a miss, writing fallback hits back into the primary store.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/franckalain/plateswipe/internal/logger"
	"github.com/franckalain/plateswipe/internal/models"
)

// PrimaryStore is the fast, writable ingredient registry. Get returns (nil, nil) on a clean miss.
// Add and AddAll must upsert by natural key.
type PrimaryStore interface {
	Get(ctx context.Context, barcode int64) (*models.Ingredient, error)
	Search(ctx context.Context, name string, limit int) ([]*models.Ingredient, error)
	Add(ctx context.Context, ingredient *models.Ingredient) error
	AddAll(ctx context.Context, ingredients []*models.Ingredient) error
}

// FallbackSource is the read-only external provider. Get returns (nil, nil) on a clean miss.
type FallbackSource interface {
	Get(ctx context.Context, barcode int64) (*models.Ingredient, error)
	Search(ctx context.Context, name string, limit int) ([]*models.Ingredient, error)
}

type Config struct {
	NetworkTimeout     time.Duration // bound on each source call; 0 disables
	BackfillTimeout    time.Duration // bound on each backfill write; 0 disables
	DefaultSearchCount int
}

const (
	defaultNetworkTimeout  = 10 * time.Second
	defaultBackfillTimeout = 10 * time.Second
	defaultSearchCount     = 10
)

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		NetworkTimeout:     defaultNetworkTimeout,
		BackfillTimeout:    defaultBackfillTimeout,
		DefaultSearchCount: defaultSearchCount,
	}
}

type Resolver struct {
	primary  PrimaryStore
	fallback FallbackSource
	cfg      Config
	log      *logger.Logger

	backfills sync.WaitGroup
}

func New(primary PrimaryStore, fallback FallbackSource, cfg Config, log *logger.Logger) *Resolver {
	if cfg.DefaultSearchCount <= 0 {
		cfg.DefaultSearchCount = defaultSearchCount
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{
		primary:  primary,
		fallback: fallback,
		cfg:      cfg,
		log:      log.With("component", "IngredientResolver"),
	}
}

// Get resolves an ingredient by barcode. It returns ErrNotFound on a clean miss of both sources
// and a *SourceError when a source fails.
func (r *Resolver) Get(ctx context.Context, barcode int64) (*models.Ingredient, error) {
	ing, err := r.primaryGet(ctx, barcode)
	if err != nil {
		return nil, sourceErr(SourcePrimary, "get", err)
	}
	if ing != nil {
		return ing, nil
	}

	ing, err = r.fallbackGet(ctx, barcode)
	if err != nil {
		return nil, sourceErr(SourceFallback, "get", err)
	}
	if ing == nil {
		return nil, ErrNotFound
	}
	if err := ing.Validate(string(SourceFallback)); err != nil {
		return nil, sourceErr(SourceFallback, "get", err)
	}

	stored := ing.Clone()
	r.backfill(ctx, "get", 1, func(ctx context.Context) error {
		return r.primary.Add(ctx, stored)
	})
	return ing, nil
}

// Search returns up to count ingredients matching name, primary results first.
// A count of zero or less uses the configured default.
func (r *Resolver) Search(ctx context.Context, name string, count int) ([]*models.Ingredient, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidQuery
	}
	if count <= 0 {
		count = r.cfg.DefaultSearchCount
	}

	found, err := r.primarySearch(ctx, name, count)
	if err != nil {
		return nil, sourceErr(SourcePrimary, "search", err)
	}
	if len(found) >= count {
		return found[:count], nil
	}

	remaining := count - len(found)
	extra, err := r.fallbackSearch(ctx, name, remaining)
	if err != nil {
		return nil, sourceErr(SourceFallback, "search", err)
	}
	if len(extra) > remaining {
		extra = extra[:remaining]
	}
	for _, ing := range extra {
		if err := ing.Validate(string(SourceFallback)); err != nil {
			return nil, sourceErr(SourceFallback, "search", err)
		}
	}

	out := make([]*models.Ingredient, 0, len(found)+len(extra))
	out = append(out, found...)
	out = append(out, extra...)

	if len(extra) > 0 {
		batch := make([]*models.Ingredient, len(extra))
		for i, ing := range extra {
			batch[i] = ing.Clone()
		}
		r.backfill(ctx, "search", len(batch), func(ctx context.Context) error {
			return r.primary.AddAll(ctx, batch)
		})
	}
	return out, nil
}

// Wait blocks until every in-flight backfill has finished.
func (r *Resolver) Wait() {
	r.backfills.Wait()
}

func (r *Resolver) primaryGet(ctx context.Context, barcode int64) (*models.Ingredient, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.primary.Get(ctx, barcode)
}

func (r *Resolver) fallbackGet(ctx context.Context, barcode int64) (*models.Ingredient, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.fallback.Get(ctx, barcode)
}

func (r *Resolver) primarySearch(ctx context.Context, name string, limit int) ([]*models.Ingredient, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.primary.Search(ctx, name, limit)
}

func (r *Resolver) fallbackSearch(ctx context.Context, name string, limit int) ([]*models.Ingredient, error) {
	ctx, cancel := r.callContext(ctx)
	defer cancel()
	return r.fallback.Search(ctx, name, limit)
}

func (r *Resolver) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.NetworkTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.NetworkTimeout)
}

// backfill writes fallback hits into the primary store without holding up the caller.
// Failures are logged only.
func (r *Resolver) backfill(ctx context.Context, op string, count int, write func(context.Context) error) {
	bctx := context.WithoutCancel(ctx)
	r.backfills.Add(1)
	go func() {
		defer r.backfills.Done()

		var cancel context.CancelFunc = func() {}
		if r.cfg.BackfillTimeout > 0 {
			bctx, cancel = context.WithTimeout(bctx, r.cfg.BackfillTimeout)
		}
		defer cancel()

		if err := write(bctx); err != nil {
			r.log.Warn("backfill failed", "op", op, "count", count, "error", err)
			return
		}
		r.log.Debug("backfilled primary store", "op", op, "count", count)
	}()
}
