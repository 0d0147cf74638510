// Package models defines the canonical records exchanged between the
// upstream fetchers, the scoring engine, and the HTTP handlers.
package models

import "time"

// TemporalMultipliers carries the CVSS temporal vector multipliers.
// Nil values mean the vector did not define the dimension; downstream
// treats nil as 1.0.
type TemporalMultipliers struct {
	RemediationLevel *float64 `json:"remediationLevel"`
	ReportConfidence *float64 `json:"reportConfidence"`
}

// CVEMetadata is the normalized NVD record for a single CVE.
type CVEMetadata struct {
	CVEID               string              `json:"cveId"`
	PublishedDate       *time.Time          `json:"publishedDate"`
	Description         string              `json:"description"`
	CVSSBase            *float64            `json:"cvssBase"`
	CVSSVector          *string             `json:"cvssVector"`
	CVSSVersion         string              `json:"cvssVersion"`
	CPE                 []string            `json:"cpe"`
	TemporalMultipliers TemporalMultipliers `json:"temporalMultipliers"`
	ModelVersion        string              `json:"modelVersion"`
}

// EPSSSignal is the FIRST.org exploit prediction record for a CVE.
type EPSSSignal struct {
	Score      float64   `json:"score"`
	Percentile float64   `json:"percentile"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// ExploitEvidence is a single proof-of-concept reference.
type ExploitEvidence struct {
	Source        string  `json:"source"`
	URL           *string `json:"url"`
	PublishedDate *string `json:"publishedDate"`
}

// OSVEvent is a single version event inside an OSV range.
type OSVEvent struct {
	Introduced   *string `json:"introduced,omitempty"`
	Fixed        *string `json:"fixed,omitempty"`
	LastAffected *string `json:"lastAffected,omitempty"`
	Limit        *string `json:"limit,omitempty"`
}

// OSVRange is a version range attached to an affected package.
type OSVRange struct {
	Type   *string    `json:"type"`
	Events []OSVEvent `json:"events"`
}

// OSVAffected is one affected package entry from OSV.
type OSVAffected struct {
	Ecosystem *string    `json:"ecosystem"`
	Package   *string    `json:"package"`
	Ranges    []OSVRange `json:"ranges"`
}

// KEVEntry is one record in the CISA Known Exploited Vulnerabilities catalog.
type KEVEntry struct {
	CVEID         string `json:"cveId"`
	DateAdded     string `json:"dateAdded,omitempty"`
	VendorProject string `json:"vendorProject,omitempty"`
	Product       string `json:"product,omitempty"`
}

// ModelParams are the Asymmetric Laplace parameters for one category.
type ModelParams struct {
	Mu     float64 `json:"mu"`
	Lambda float64 `json:"lambda"`
	Kappa  float64 `json:"kappa"`
}

// ExplanationEntry is one ordered step of the scoring explanation.
type ExplanationEntry struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Source string `json:"source"`
}

// SecScoreResponse is the full enrichment payload for a CVE.
type SecScoreResponse struct {
	CVEID         string             `json:"cveId"`
	PublishedDate *time.Time         `json:"publishedDate"`
	CVSSBase      *float64           `json:"cvssBase"`
	CVSSVector    *string            `json:"cvssVector"`
	SecScore      float64            `json:"secscore"`
	ExploitProb   float64            `json:"exploitProb"`
	ModelCategory string             `json:"modelCategory"`
	ModelParams   ModelParams        `json:"modelParams"`
	EPSS          *EPSSSignal        `json:"epss"`
	Exploits      []ExploitEvidence  `json:"exploits"`
	KEV           bool               `json:"kev"`
	OSV           []OSVAffected      `json:"osv"`
	Explanation   []ExplanationEntry `json:"explanation"`
	ComputedAt    time.Time          `json:"computedAt"`
	ModelVersion  string             `json:"modelVersion"`
}

// ErrorResponse is the sanitized error body returned by handlers.
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// RefreshResult reports the outcome of a KEV catalog refresh.
type RefreshResult struct {
	Changed   bool      `json:"changed"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}
