package kev

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/secscorehq/secscore/pkg/models"
)

// CompactFile is the on-disk KEV snapshot schema.
type CompactFile struct {
	ETag         string            `json:"etag,omitempty"`
	LastModified string            `json:"lastModified,omitempty"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Items        []models.KEVEntry `json:"items"`
}

// normalizeEntries deduplicates entries by CVE identifier and trims
// blank optional fields. First occurrence wins.
func normalizeEntries(items []models.KEVEntry) []models.KEVEntry {
	out := make([]models.KEVEntry, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		id := strings.ToUpper(strings.TrimSpace(it.CVEID))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, models.KEVEntry{
			CVEID:         id,
			DateAdded:     strings.TrimSpace(it.DateAdded),
			VendorProject: strings.TrimSpace(it.VendorProject),
			Product:       strings.TrimSpace(it.Product),
		})
	}
	return out
}

// readCompact loads a compact snapshot file from disk.
func readCompact(path string) (*CompactFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cf CompactFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse KEV cache file: %w", err)
	}
	cf.Items = normalizeEntries(cf.Items)
	return &cf, nil
}

// writeCompact persists a compact snapshot via temp file + rename so a
// crash mid-write never leaves a truncated cache.
func writeCompact(path string, cf *CompactFile) error {
	data, err := json.Marshal(cf)
	if err != nil {
		return fmt.Errorf("failed to marshal KEV cache file: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".kev-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace cache file: %w", err)
	}
	return nil
}
