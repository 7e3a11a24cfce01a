// Package catalog caches OpenRouter's free model list and routes task
// categories to models from it.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/stupiduntilnot/freepsy/internal/control"
	"github.com/stupiduntilnot/freepsy/internal/openrouter"
)

const (
	DefaultTTL          = 10 * time.Minute
	DefaultFetchTimeout = 15 * time.Second

	imageToText = "image->text"
)

// Descriptor identifies one model of the catalog.
type Descriptor struct {
	ID   string
	Name string
}

// Source is the upstream the cache fetches from.
type Source interface {
	ListModels(ctx context.Context) ([]openrouter.ModelInfo, error)
	Ping(ctx context.Context, model string) error
}

type snapshot struct {
	models    []Descriptor
	fetchedAt time.Time
}

// Cache is the process-wide free model catalog. Reads of a fresh snapshot
// take no lock; refreshes are collapsed into one upstream fetch.
type Cache struct {
	source       Source
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger

	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

// NewCache returns an empty cache. A non-positive ttl selects DefaultTTL.
func NewCache(source Source, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		source:       source,
		ttl:          ttl,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       logger.With("component", "catalog"),
	}
}

// WithClock substitutes the time source used for TTL checks.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// FreeModels returns the free, chat-capable models sorted by name. A failed
// refresh yields an empty list and keeps the previous snapshot.
func (c *Cache) FreeModels(ctx context.Context) []Descriptor {
	if s := c.fresh(); s != nil {
		return s.models
	}

	ch := c.group.DoChan("models", func() (any, error) {
		if s := c.fresh(); s != nil {
			return s.models, nil
		}
		return c.refresh(ctx), nil
	})
	select {
	case res := <-ch:
		models, _ := res.Val.([]Descriptor)
		return models
	case <-ctx.Done():
		return nil
	}
}

// Validate checks that model answers a one-token system+user request.
func (c *Cache) Validate(ctx context.Context, model string) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	if err := c.source.Ping(ctx, model); err != nil {
		c.logger.Warn("model validation failed", "model", model, "error", err)
		return &ValidationError{Model: model, Err: err}
	}
	return nil
}

// Reset forgets the cached snapshot.
func (c *Cache) Reset() {
	c.current.Store(nil)
}

func (c *Cache) fresh() *snapshot {
	s := c.current.Load()
	if s == nil || c.now().Sub(s.fetchedAt) >= c.ttl {
		return nil
	}
	return s
}

// refresh runs detached from the caller so a departing caller does not fail
// the fetch shared with others.
func (c *Cache) refresh(ctx context.Context) []Descriptor {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	infos, err := c.source.ListModels(ctx)
	if err != nil {
		c.logger.Warn("model catalog refresh failed", "class", control.ClassCacheRefresh, "error", err)
		return nil
	}
	models := FilterFree(infos)
	c.current.Store(&snapshot{models: models, fetchedAt: c.now()})
	c.logger.Info("model catalog refreshed", "total", len(infos), "free", len(models))
	return models
}

// FilterFree keeps models whose prompt and completion prices are both "0"
// and that accept text input, sorted by display name.
func FilterFree(infos []openrouter.ModelInfo) []Descriptor {
	models := make([]Descriptor, 0, len(infos))
	for _, m := range infos {
		if m.Pricing == nil || m.Pricing.Prompt != "0" || m.Pricing.Completion != "0" {
			continue
		}
		if m.Architecture != nil && m.Architecture.Modality == imageToText {
			continue
		}
		name := m.Name
		if name == "" {
			name = m.ID
		}
		models = append(models, Descriptor{ID: m.ID, Name: name})
	}
	slices.SortStableFunc(models, func(a, b Descriptor) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return models
}

// ValidationError reports a model that failed Validate.
type ValidationError struct {
	Model string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("model %s failed validation: %v", e.Model, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Status returns the HTTP status the model answered with, or 0 when the
// check failed before a response arrived.
func (e *ValidationError) Status() int {
	var se *openrouter.StatusError
	if errors.As(e.Err, &se) {
		return se.Status
	}
	return 0
}
