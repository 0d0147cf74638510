// Package exploitdb serves proof-of-concept evidence lookups from the
// bundled ExploitDB index.
package exploitdb

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/secscorehq/secscore/pkg/logger"
	"github.com/secscorehq/secscore/pkg/models"
)

// indexRecord is the bundled JSON entry shape. CVEID is decoded as a
// raw value so records with a non-string identifier can be filtered out.
type indexRecord struct {
	CVEID         json.RawMessage `json:"cveId"`
	URL           *string         `json:"url"`
	PublishedDate *string         `json:"publishedDate"`
}

// Index is the in-memory ExploitDB index: loaded once on first lookup,
// read-only afterward.
type Index struct {
	log  *logger.Logger
	raw  []byte
	once sync.Once
	byID map[string][]models.ExploitEvidence
}

// NewIndex creates an index over the bundled JSON array. Loading is
// deferred to the first lookup.
func NewIndex(log *logger.Logger, raw []byte) *Index {
	return &Index{
		log: log.WithComponent("exploitdb-index"),
		raw: raw,
	}
}

// Lookup returns the exploit evidence for a CVE, case-insensitively.
// The result may be empty but is never nil after a successful load.
func (i *Index) Lookup(cveID string) []models.ExploitEvidence {
	i.once.Do(i.load)
	return i.byID[strings.ToUpper(cveID)]
}

// load parses the bundled array. A parse failure leaves the index empty
// and logs once.
func (i *Index) load() {
	i.byID = make(map[string][]models.ExploitEvidence)

	var records []indexRecord
	if err := json.Unmarshal(i.raw, &records); err != nil {
		i.log.Warn("failed to load ExploitDB index, lookups will be empty", "error", err)
		return
	}

	var loaded int
	for _, rec := range records {
		var id string
		if err := json.Unmarshal(rec.CVEID, &id); err != nil || id == "" {
			continue
		}
		key := strings.ToUpper(id)
		i.byID[key] = append(i.byID[key], models.ExploitEvidence{
			Source:        "exploitdb",
			URL:           rec.URL,
			PublishedDate: rec.PublishedDate,
		})
		loaded++
	}

	i.log.Info("ExploitDB index loaded", "entries", loaded, "cves", len(i.byID))
}
