package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/secscorehq/secscore/internal/metrics"
	"github.com/secscorehq/secscore/pkg/models"
)

// nvdResponse is the NVD CVE API 2.0 payload, reduced to the fields we
// consume.
type nvdResponse struct {
	Vulnerabilities []struct {
		CVE nvdCVE `json:"cve"`
	} `json:"vulnerabilities"`
}

type nvdCVE struct {
	ID           string `json:"id"`
	Published    string `json:"published"`
	Descriptions []struct {
		Lang  string `json:"lang"`
		Value string `json:"value"`
	} `json:"descriptions"`
	Metrics        map[string]json.RawMessage `json:"metrics"`
	Configurations []struct {
		Nodes []nvdNode `json:"nodes"`
	} `json:"configurations"`
}

type nvdNode struct {
	CPEMatch []struct {
		Criteria string `json:"criteria"`
	} `json:"cpeMatch"`
	Children []nvdNode `json:"children"`
}

type nvdMetric struct {
	CVSSData struct {
		Version      string   `json:"version"`
		VectorString string   `json:"vectorString"`
		BaseScore    *float64 `json:"baseScore"`
		Score        *float64 `json:"score"`
	} `json:"cvssData"`
}

// metricPriority orders the NVD metric keys from most to least
// preferred CVSS version.
var metricPriority = []struct {
	key     string
	version string
}{
	{"cvssMetricV40", "4.0"},
	{"cvssMetricV31", "3.1"},
	{"cvssMetricV30", "3.0"},
	{"cvssMetricV3", "3.0"},
	{"cvssMetricV2", "2.0"},
}

// nvdPublishedLayouts are the timestamp formats NVD emits.
var nvdPublishedLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
}

// FetchNVD retrieves and normalizes the NVD record for a CVE. A missing
// record surfaces as ErrNotFound; any other failure returns a defaulted
// metadata record with a warning log so scoring can degrade gracefully.
func (c *Client) FetchNVD(ctx context.Context, cveID string) (*models.CVEMetadata, error) {
	u := fmt.Sprintf("%s?cveId=%s", c.nvdBase, url.QueryEscape(cveID))

	headers := map[string]string{}
	if c.nvdAPIKey != "" {
		headers["apiKey"] = c.nvdAPIKey
	}

	body, err := c.getJSON(ctx, u, headers)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		metrics.UpstreamFailures.WithLabelValues("nvd").Inc()
		c.log.Warn("NVD fetch failed, returning defaulted metadata", "cve_id", cveID, "error", err)
		return defaultedMetadata(cveID), nil
	}

	var resp nvdResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.UpstreamFailures.WithLabelValues("nvd").Inc()
		c.log.Warn("NVD response unreadable, returning defaulted metadata", "cve_id", cveID, "error", err)
		return defaultedMetadata(cveID), nil
	}
	if len(resp.Vulnerabilities) == 0 {
		return nil, ErrNotFound
	}

	cve := resp.Vulnerabilities[0].CVE
	for _, v := range resp.Vulnerabilities {
		if v.CVE.ID == cveID {
			cve = v.CVE
			break
		}
	}

	return decodeNVD(cveID, cve), nil
}

// defaultedMetadata is the record used when NVD is unreachable: all
// nullable fields null, empty CPE set.
func defaultedMetadata(cveID string) *models.CVEMetadata {
	return &models.CVEMetadata{CVEID: cveID, CPE: []string{}}
}

func decodeNVD(cveID string, cve nvdCVE) *models.CVEMetadata {
	meta := &models.CVEMetadata{
		CVEID: cveID,
		CPE:   collectCPE(cve),
	}

	if t := parsePublished(cve.Published); t != nil {
		meta.PublishedDate = t
	}

	for _, d := range cve.Descriptions {
		if d.Lang == "en" {
			meta.Description = d.Value
			break
		}
	}
	if meta.Description == "" && len(cve.Descriptions) > 0 {
		meta.Description = cve.Descriptions[0].Value
	}

	if metric, version, ok := selectMetric(cve.Metrics); ok {
		meta.CVSSVersion = version
		score := metric.CVSSData.BaseScore
		if score == nil {
			score = metric.CVSSData.Score
		}
		if score != nil && !math.IsNaN(*score) {
			meta.CVSSBase = score
		}
		if v := metric.CVSSData.VectorString; v != "" {
			meta.CVSSVector = &v
			ver, pairs := parseVector(v)
			if ver != "" {
				meta.CVSSVersion = ver
			}
			meta.TemporalMultipliers = temporalFromVector(pairs)
		}
	}

	return meta
}

// selectMetric picks the highest-priority CVSS metric present.
func selectMetric(raw map[string]json.RawMessage) (nvdMetric, string, bool) {
	for _, p := range metricPriority {
		data, ok := raw[p.key]
		if !ok {
			continue
		}
		var list []nvdMetric
		if err := json.Unmarshal(data, &list); err != nil || len(list) == 0 {
			continue
		}
		return list[0], p.version, true
	}
	return nvdMetric{}, "", false
}

func parsePublished(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range nvdPublishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// parseVector splits a CVSS vector on "/": the first segment yields the
// version (after "CVSS:"), the rest are key:value pairs.
func parseVector(vector string) (version string, pairs map[string]string) {
	pairs = make(map[string]string)
	for i, seg := range strings.Split(vector, "/") {
		if i == 0 && strings.HasPrefix(seg, "CVSS:") {
			version = strings.TrimPrefix(seg, "CVSS:")
			continue
		}
		if k, v, ok := strings.Cut(seg, ":"); ok {
			pairs[k] = v
		}
	}
	return version, pairs
}

// temporalFromVector maps the RL and RC vector codes to multipliers.
// Unknown codes stay nil; downstream treats nil as 1.
func temporalFromVector(pairs map[string]string) models.TemporalMultipliers {
	return models.TemporalMultipliers{
		RemediationLevel: remediationLevel(pairs["RL"]),
		ReportConfidence: reportConfidence(pairs["RC"]),
	}
}

func remediationLevel(code string) *float64 {
	switch strings.ToUpper(code) {
	case "X", "NOT_DEFINED":
		return ptr(1.0)
	case "U", "UNAVAILABLE":
		return ptr(1.0)
	case "W", "WORKAROUND":
		return ptr(0.97)
	case "T", "TEMPORARY", "TEMPORARY_FIX":
		return ptr(0.96)
	case "O", "OFFICIAL", "OFFICIAL_FIX":
		return ptr(0.95)
	}
	return nil
}

func reportConfidence(code string) *float64 {
	switch strings.ToUpper(code) {
	case "X", "NOT_DEFINED":
		return ptr(1.0)
	case "C", "CONFIRMED":
		return ptr(1.0)
	case "R", "REASONABLE":
		return ptr(0.96)
	case "U", "UNKNOWN":
		return ptr(0.92)
	}
	return nil
}

func ptr(v float64) *float64 {
	return &v
}

// collectCPE walks the configuration nodes recursively and returns the
// deduplicated criteria strings in first-seen order.
func collectCPE(cve nvdCVE) []string {
	seen := make(map[string]struct{})
	var out []string

	var walk func(nodes []nvdNode)
	walk = func(nodes []nvdNode) {
		for _, n := range nodes {
			for _, m := range n.CPEMatch {
				if m.Criteria == "" {
					continue
				}
				if _, dup := seen[m.Criteria]; dup {
					continue
				}
				seen[m.Criteria] = struct{}{}
				out = append(out, m.Criteria)
			}
			walk(n.Children)
		}
	}
	for _, cfg := range cve.Configurations {
		walk(cfg.Nodes)
	}

	if out == nil {
		return []string{}
	}
	return out
}
