// Package kev maintains the CISA Known Exploited Vulnerabilities
// catalog: an in-memory index published as an atomic snapshot, with
// disk persistence, bundled-fallback bootstrap, and conditional
// refresh against the upstream feed.
package kev

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/secscorehq/secscore/internal/metrics"
	"github.com/secscorehq/secscore/pkg/logger"
	"github.com/secscorehq/secscore/pkg/models"
)

// Snapshot is an immutable view of the KEV dataset. Readers capture the
// pointer once per operation; refreshes publish a new snapshot rather
// than mutating in place.
type Snapshot struct {
	entries      map[string]models.KEVEntry
	etag         string
	lastModified string
	updatedAt    time.Time
}

// Contains reports membership and returns the entry metadata.
func (s *Snapshot) Contains(cveID string) (models.KEVEntry, bool) {
	e, ok := s.entries[strings.ToUpper(cveID)]
	return e, ok
}

// Count returns the number of catalog entries.
func (s *Snapshot) Count() int {
	return len(s.entries)
}

// UpdatedAt returns when the dataset was last refreshed.
func (s *Snapshot) UpdatedAt() time.Time {
	return s.updatedAt
}

// CatalogConfig configures the catalog manager.
type CatalogConfig struct {
	FeedURL      string
	CachePath    string
	FetchTimeout time.Duration
	UserAgent    string
	// Fallback is the bundled compact snapshot used when no cache file
	// exists yet.
	Fallback []byte
	// HTTPClient performs feed fetches; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Catalog manages the process-wide KEV dataset.
type Catalog struct {
	log          *logger.Logger
	feedURL      string
	cachePath    string
	fetchTimeout time.Duration
	userAgent    string
	fallback     []byte
	client       *http.Client

	snap      atomic.Pointer[Snapshot]
	bootOnce  sync.Once
	refreshMu sync.Mutex
	now       func() time.Time
}

// NewCatalog creates a KEV catalog manager. The dataset is hydrated
// lazily on first access.
func NewCatalog(log *logger.Logger, cfg CatalogConfig) *Catalog {
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Catalog{
		log:          log.WithComponent("kev-catalog"),
		feedURL:      cfg.FeedURL,
		cachePath:    cfg.CachePath,
		fetchTimeout: timeout,
		userAgent:    cfg.UserAgent,
		fallback:     cfg.Fallback,
		client:       client,
		now:          time.Now,
	}
}

// Snapshot returns the current dataset, bootstrapping on first access.
func (c *Catalog) Snapshot() *Snapshot {
	c.bootOnce.Do(c.bootstrap)
	return c.snap.Load()
}

// Contains reports whether a CVE is in the catalog.
func (c *Catalog) Contains(cveID string) (models.KEVEntry, bool) {
	return c.Snapshot().Contains(cveID)
}

// bootstrap hydrates the initial snapshot: cache file, then bundled
// fallback (copied to the cache path), then an empty dataset.
func (c *Catalog) bootstrap() {
	if cf, err := readCompact(c.cachePath); err == nil {
		c.publish(cf)
		c.log.Info("KEV catalog loaded from cache file",
			"path", c.cachePath, "count", len(cf.Items))
		return
	} else if !os.IsNotExist(err) {
		c.log.Warn("failed to read KEV cache file", "path", c.cachePath, "error", err)
	}

	if len(c.fallback) > 0 {
		var cf CompactFile
		if err := json.Unmarshal(c.fallback, &cf); err == nil {
			cf.Items = normalizeEntries(cf.Items)
			c.publish(&cf)
			if err := writeCompact(c.cachePath, &cf); err != nil {
				c.log.Warn("failed to seed KEV cache file from fallback", "error", err)
			}
			c.log.Info("KEV catalog loaded from bundled fallback", "count", len(cf.Items))
			return
		}
		c.log.Warn("bundled KEV fallback is unreadable")
	}

	c.log.Warn("bootstrap_missing: starting with an empty KEV dataset")
	c.snap.Store(&Snapshot{entries: map[string]models.KEVEntry{}})
}

// publish swaps in a new snapshot built from a compact file.
func (c *Catalog) publish(cf *CompactFile) {
	entries := make(map[string]models.KEVEntry, len(cf.Items))
	for _, it := range cf.Items {
		entries[it.CVEID] = it
	}
	c.snap.Store(&Snapshot{
		entries:      entries,
		etag:         cf.ETag,
		lastModified: cf.LastModified,
		updatedAt:    cf.UpdatedAt,
	})
}

// upstreamFeed is the verbose shape published by CISA.
type upstreamFeed struct {
	Vulnerabilities []struct {
		CVEID         string `json:"cveID"`
		DateAdded     string `json:"dateAdded"`
		VendorProject string `json:"vendorProject"`
		Product       string `json:"product"`
	} `json:"vulnerabilities"`
	// Items is the service's own compact shape; accepted so a mirror
	// of the compact file can serve as the feed.
	Items []models.KEVEntry `json:"items"`
}

// Refresh fetches the feed with conditional headers and publishes a new
// snapshot when the dataset changed. A 304 or any failure leaves the
// current snapshot untouched.
func (c *Catalog) Refresh(ctx context.Context) (models.RefreshResult, error) {
	c.bootOnce.Do(c.bootstrap)

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	prev := c.snap.Load()
	unchanged := models.RefreshResult{
		Changed:   false,
		Count:     prev.Count(),
		UpdatedAt: prev.updatedAt,
	}

	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		metrics.KEVRefreshes.WithLabelValues("failed").Inc()
		return unchanged, fmt.Errorf("failed to build KEV request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if prev.etag != "" {
		req.Header.Set("If-None-Match", prev.etag)
	}
	if prev.lastModified != "" {
		req.Header.Set("If-Modified-Since", prev.lastModified)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.KEVRefreshes.WithLabelValues("failed").Inc()
		c.log.Warn("KEV refresh failed, keeping previous dataset", "error", err)
		return unchanged, fmt.Errorf("KEV feed fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		metrics.KEVRefreshes.WithLabelValues("unchanged").Inc()
		c.log.Info("KEV feed unchanged", "updated_at", prev.updatedAt)
		return unchanged, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.KEVRefreshes.WithLabelValues("failed").Inc()
		c.log.Warn("KEV refresh failed, keeping previous dataset",
			"status", resp.StatusCode)
		return unchanged, fmt.Errorf("KEV feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.KEVRefreshes.WithLabelValues("failed").Inc()
		return unchanged, fmt.Errorf("failed to read KEV feed: %w", err)
	}

	var feed upstreamFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		metrics.KEVRefreshes.WithLabelValues("failed").Inc()
		return unchanged, fmt.Errorf("failed to parse KEV feed: %w", err)
	}

	items := feed.Items
	if len(feed.Vulnerabilities) > 0 {
		items = make([]models.KEVEntry, 0, len(feed.Vulnerabilities))
		for _, v := range feed.Vulnerabilities {
			items = append(items, models.KEVEntry{
				CVEID:         v.CVEID,
				DateAdded:     v.DateAdded,
				VendorProject: v.VendorProject,
				Product:       v.Product,
			})
		}
	}

	cf := &CompactFile{
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		UpdatedAt:    c.now().UTC(),
		Items:        normalizeEntries(items),
	}

	if err := writeCompact(c.cachePath, cf); err != nil {
		c.log.Warn("failed to persist KEV cache file", "error", err)
	}
	c.publish(cf)

	metrics.KEVRefreshes.WithLabelValues("changed").Inc()
	c.log.Info("KEV catalog refreshed",
		"count", len(cf.Items), "updated_at", cf.UpdatedAt)

	return models.RefreshResult{
		Changed:   true,
		Count:     len(cf.Items),
		UpdatedAt: cf.UpdatedAt,
	}, nil
}
