package kev

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secscorehq/secscore/pkg/logger"
	"github.com/secscorehq/secscore/pkg/models"
)

func testLog() *logger.Logger {
	return logger.New("error", "text")
}

func TestNormalizeEntries(t *testing.T) {
	in := []models.KEVEntry{
		{CVEID: "cve-2021-44228", DateAdded: " 2021-12-10 ", VendorProject: "Apache"},
		{CVEID: "CVE-2021-44228", Product: "duplicate, dropped"},
		{CVEID: "  "},
		{CVEID: "CVE-2020-1472"},
	}

	out := normalizeEntries(in)
	require.Len(t, out, 2)
	assert.Equal(t, "CVE-2021-44228", out[0].CVEID)
	assert.Equal(t, "2021-12-10", out[0].DateAdded)
	assert.Equal(t, "Apache", out[0].VendorProject)
	assert.Equal(t, "CVE-2020-1472", out[1].CVEID)
}

func TestCompactFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "kev_cache.json")

	in := &CompactFile{
		ETag:         `"abc"`,
		LastModified: "Mon, 02 Jan 2026 15:04:05 GMT",
		UpdatedAt:    time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Items: []models.KEVEntry{
			{CVEID: "CVE-2021-44228", DateAdded: "2021-12-10", VendorProject: "Apache", Product: "Log4j2"},
			{CVEID: "CVE-2020-1472"},
		},
	}
	require.NoError(t, writeCompact(path, in))

	out, err := readCompact(path)
	require.NoError(t, err)
	assert.Equal(t, in.ETag, out.ETag)
	assert.Equal(t, in.LastModified, out.LastModified)
	assert.True(t, in.UpdatedAt.Equal(out.UpdatedAt))
	assert.Equal(t, in.Items, out.Items)
}

func TestCatalog_BootstrapFromCacheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kev_cache.json")
	require.NoError(t, writeCompact(path, &CompactFile{
		UpdatedAt: time.Now().UTC(),
		Items:     []models.KEVEntry{{CVEID: "CVE-2021-44228"}},
	}))

	c := NewCatalog(testLog(), CatalogConfig{CachePath: path})

	_, ok := c.Contains("CVE-2021-44228")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Snapshot().Count())
}

func TestCatalog_BootstrapFallbackSeedsCacheFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kev_cache.json")
	fallback := []byte(`{"updatedAt":"2026-01-01T00:00:00Z","items":[{"cveId":"CVE-2020-1472"}]}`)

	c := NewCatalog(testLog(), CatalogConfig{CachePath: path, Fallback: fallback})

	_, ok := c.Contains("cve-2020-1472")
	assert.True(t, ok, "lookup is case-insensitive")

	// The fallback is copied to the cache path for the next boot.
	seeded, err := readCompact(path)
	require.NoError(t, err)
	assert.Len(t, seeded.Items, 1)
}

func TestCatalog_BootstrapMissingStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kev_cache.json")

	c := NewCatalog(testLog(), CatalogConfig{CachePath: path})

	assert.Equal(t, 0, c.Snapshot().Count())
	_, ok := c.Contains("CVE-2021-44228")
	assert.False(t, ok)
}

func TestCatalog_RefreshVerboseFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(`{"vulnerabilities":[
			{"cveID":"CVE-2021-44228","dateAdded":"2021-12-10","vendorProject":"Apache","product":"Log4j2"},
			{"cveID":"CVE-2020-1472"}
		]}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "kev_cache.json")
	c := NewCatalog(testLog(), CatalogConfig{FeedURL: srv.URL, CachePath: path})

	res, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 2, res.Count)

	entry, ok := c.Contains("CVE-2021-44228")
	require.True(t, ok)
	assert.Equal(t, "Apache", entry.VendorProject)

	// The new snapshot is persisted with the caching headers.
	cf, err := readCompact(path)
	require.NoError(t, err)
	assert.Equal(t, `"v1"`, cf.ETag)
	assert.Len(t, cf.Items, 2)
}

func TestCatalog_RefreshCompactFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"cveId":"CVE-2019-0708"}]}`))
	}))
	defer srv.Close()

	c := NewCatalog(testLog(), CatalogConfig{
		FeedURL:   srv.URL,
		CachePath: filepath.Join(t.TempDir(), "kev_cache.json"),
	})

	res, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Count)
}

func TestCatalog_Refresh304LeavesSnapshotIdentical(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("ETag", `"v1"`)
			w.Write([]byte(`{"items":[{"cveId":"CVE-2021-44228"}]}`))
			return
		}
		assert.Equal(t, `"v1"`, r.Header.Get("If-None-Match"))
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "kev_cache.json")
	c := NewCatalog(testLog(), CatalogConfig{FeedURL: srv.URL, CachePath: path})

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)
	before := c.snap.Load()

	fi, err := os.Stat(path)
	require.NoError(t, err)
	mtime := fi.ModTime()

	res, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 1, res.Count)

	// No runtime mutation and no disk write.
	assert.Same(t, before, c.snap.Load())
	fi, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, mtime, fi.ModTime())
}

func TestCatalog_FailedRefreshPreservesDataset(t *testing.T) {
	var fail bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"items":[{"cveId":"CVE-2021-44228"}]}`))
	}))
	defer srv.Close()

	c := NewCatalog(testLog(), CatalogConfig{
		FeedURL:   srv.URL,
		CachePath: filepath.Join(t.TempDir(), "kev_cache.json"),
	})

	_, err := c.Refresh(context.Background())
	require.NoError(t, err)

	fail = true
	res, err := c.Refresh(context.Background())
	assert.Error(t, err)
	assert.False(t, res.Changed)

	// Membership is consistent before and after the failed refresh.
	_, ok := c.Contains("CVE-2021-44228")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Snapshot().Count())
}

func TestScheduler_DisabledNeverArms(t *testing.T) {
	c := NewCatalog(testLog(), CatalogConfig{
		CachePath: filepath.Join(t.TempDir(), "kev_cache.json"),
	})
	s := NewScheduler(testLog(), c, time.Hour, true)

	s.EnsureStarted()
	s.EnsureStarted()
	s.Stop()
}

func TestScheduler_StopIsIdempotent(t *testing.T) {
	c := NewCatalog(testLog(), CatalogConfig{
		CachePath: filepath.Join(t.TempDir(), "kev_cache.json"),
	})
	s := NewScheduler(testLog(), c, time.Hour, false)

	s.EnsureStarted()
	s.Stop()
	s.Stop()
}
