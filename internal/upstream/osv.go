package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/secscorehq/secscore/internal/metrics"
	"github.com/secscorehq/secscore/pkg/models"
)

// osvResponse is the OSV vulnerability payload, reduced to the affected
// package list.
type osvResponse struct {
	Affected []struct {
		Package struct {
			Ecosystem string `json:"ecosystem"`
			Name      string `json:"name"`
		} `json:"package"`
		Ranges []struct {
			Type   string `json:"type"`
			Events []struct {
				Introduced   string `json:"introduced"`
				Fixed        string `json:"fixed"`
				LastAffected string `json:"last_affected"`
				Limit        string `json:"limit"`
			} `json:"events"`
		} `json:"ranges"`
	} `json:"affected"`
}

// FetchOSV retrieves the affected-package data for a CVE. A 404, an
// empty list, or any failure yields nil.
func (c *Client) FetchOSV(ctx context.Context, cveID string) []models.OSVAffected {
	u := fmt.Sprintf("%s/%s", c.osvBase, url.PathEscape(cveID))

	body, err := c.getJSON(ctx, u, nil)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			metrics.UpstreamFailures.WithLabelValues("osv").Inc()
			c.log.Warn("OSV fetch failed", "cve_id", cveID, "error", err)
		}
		return nil
	}

	var resp osvResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.UpstreamFailures.WithLabelValues("osv").Inc()
		c.log.Warn("OSV response unreadable", "cve_id", cveID, "error", err)
		return nil
	}
	if len(resp.Affected) == 0 {
		return nil
	}

	out := make([]models.OSVAffected, 0, len(resp.Affected))
	for _, a := range resp.Affected {
		affected := models.OSVAffected{
			Ecosystem: optString(a.Package.Ecosystem),
			Package:   optString(a.Package.Name),
		}
		for _, r := range a.Ranges {
			rng := models.OSVRange{Type: optString(r.Type)}
			for _, ev := range r.Events {
				rng.Events = append(rng.Events, models.OSVEvent{
					Introduced:   optString(ev.Introduced),
					Fixed:        optString(ev.Fixed),
					LastAffected: optString(ev.LastAffected),
					Limit:        optString(ev.Limit),
				})
			}
			affected.Ranges = append(affected.Ranges, rng)
		}
		out = append(out, affected)
	}
	return out
}

// optString maps empty strings to nil pointers.
func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
