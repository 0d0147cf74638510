package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"

	"github.com/secscorehq/secscore/internal/metrics"
	"github.com/secscorehq/secscore/pkg/models"
)

// epssResponse is the FIRST.org EPSS API payload. Scores arrive as
// strings.
type epssResponse struct {
	Data []struct {
		CVE        string `json:"cve"`
		EPSS       string `json:"epss"`
		Percentile string `json:"percentile"`
	} `json:"data"`
}

// FetchEPSS retrieves the EPSS probability for a CVE. Any upstream
// failure, a missing record, or a non-numeric score yields nil.
func (c *Client) FetchEPSS(ctx context.Context, cveID string) *models.EPSSSignal {
	u := fmt.Sprintf("%s?cve=%s", c.epssBase, url.QueryEscape(cveID))

	body, err := c.getJSON(ctx, u, nil)
	if err != nil {
		metrics.UpstreamFailures.WithLabelValues("epss").Inc()
		c.log.Warn("EPSS fetch failed", "cve_id", cveID, "error", err)
		return nil
	}

	var resp epssResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.UpstreamFailures.WithLabelValues("epss").Inc()
		c.log.Warn("EPSS response unreadable", "cve_id", cveID, "error", err)
		return nil
	}

	for _, rec := range resp.Data {
		if rec.CVE != cveID {
			continue
		}
		score, err1 := strconv.ParseFloat(rec.EPSS, 64)
		percentile, err2 := strconv.ParseFloat(rec.Percentile, 64)
		if err1 != nil || err2 != nil || math.IsNaN(score) || math.IsNaN(percentile) {
			return nil
		}
		return &models.EPSSSignal{
			Score:      score,
			Percentile: percentile,
			FetchedAt:  time.Now().UTC(),
		}
	}
	return nil
}
