// Package scoring implements the SecScore computation engine: CPE-driven
// category inference, the Asymmetric Laplace CDF over weeks since
// publication, CVSS temporal kernel blending, and explanation emission.
package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/secscorehq/secscore/pkg/logger"
	"github.com/secscorehq/secscore/pkg/models"
)

// ModelVersion tags every response and cache entry; bump it when the
// blending formula or parameter table changes shape.
const ModelVersion = "secscore-2.3"

const (
	// EPSSBlendWeight scales the EPSS probability into additive points.
	EPSSBlendWeight = 2.5
	// PoCBonusMax is added when any public exploit evidence exists.
	PoCBonusMax = 1.0
	// KEVMinFloor is the minimum score for KEV-listed CVEs.
	KEVMinFloor = 8.0

	// eMinLegacy is the exploit-maturity lower bound for CVSS v2/v3.
	eMinLegacy = 0.91
	// eMax is the exploit-maturity upper bound.
	eMax = 1.0

	// expBound keeps AL-CDF exponent arguments in a safe range.
	expBound = 50.0

	// roundEpsilon counters binary-float artifacts in half-away rounding.
	roundEpsilon = 1e-9
)

// CategoryDefault is the fallback category tag.
const CategoryDefault = "default"

// cvssV4Maturity maps CVSS v4 exploit-maturity codes to multipliers.
var cvssV4Maturity = map[string]float64{
	"A": 1.0,
	"P": 0.94,
	"U": 0.9,
	"X": 1.0,
}

// categoryRule is one entry in the inference priority list.
type categoryRule struct {
	category string
	needles  []string
}

// categoryRules is evaluated in order against lowercased CPE strings;
// first match wins. The ordering is load-bearing: a Windows CVE whose
// CPE set also mentions PHP classifies as "php".
var categoryRules = []categoryRule{
	{"php", []string{"php"}},
	{"webapps", []string{"wordpress", "joomla"}},
	{"windows", []string{"microsoft", "windows"}},
	{"linux", []string{"linux", "kernel"}},
	{"android", []string{"android", "google:android"}},
	{"ios", []string{"apple:iphone_os", "ios"}},
	{"macos", []string{"apple:mac_os_x", "macos"}},
	{"java", []string{"oracle:java", ":java", "openjdk", "jdk"}},
	{"dos", []string{"denial_of_service", ":dos", "/dos"}},
	{"asp", []string{"asp.net", "aspnet"}},
	{"hardware", []string{":h:", "firmware", "hardware"}},
	{"remote", []string{"remote"}},
	{"local", []string{"local"}},
}

// InferCategory maps a CPE string set to a model category tag.
func InferCategory(cpe []string) string {
	if len(cpe) == 0 {
		return CategoryDefault
	}

	lowered := make([]string, 0, len(cpe))
	for _, c := range cpe {
		lowered = append(lowered, strings.ToLower(c))
	}

	for _, rule := range categoryRules {
		for _, s := range lowered {
			for _, needle := range rule.needles {
				if strings.Contains(s, needle) {
					return rule.category
				}
			}
		}
	}
	return CategoryDefault
}

// AsymmetricLaplaceCDF evaluates the AL distribution function at t weeks
// for parameters (mu, lambda, kappa). Negative t clamps to 0; non-finite
// inputs yield 0; the result is clamped to [0, 1].
func AsymmetricLaplaceCDF(t, mu, lambda, kappa float64) float64 {
	for _, v := range [4]float64{t, mu, lambda, kappa} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
	}
	if t < 0 {
		t = 0
	}

	k2 := kappa * kappa
	var f float64
	if t <= mu {
		exp := boundedExp((lambda / kappa) * (t - mu))
		f = (k2 / (1 + k2)) * exp
	} else {
		exp := boundedExp(-lambda * kappa * (t - mu))
		f = 1 - exp/(1+k2)
	}

	return clamp(f, 0, 1)
}

// boundedExp evaluates exp with the argument bounded to [-expBound,
// expBound]; arguments at or below the lower bound contribute 0.
func boundedExp(x float64) float64 {
	if x <= -expBound {
		return 0
	}
	if x > expBound {
		x = expBound
	}
	return math.Exp(x)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Round1 rounds to one decimal, half away from zero, with a small
// epsilon bias so values like 2.675 land on 2.7 despite binary floats.
func Round1(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	scaled := math.Abs(v)*10 + 0.5 + roundEpsilon
	r := math.Floor(scaled) / 10
	if v < 0 {
		return -r
	}
	return r
}

// Input carries the fused signals for one CVE.
type Input struct {
	CVSSBase         *float64
	CVSSVersion      string
	RemediationLevel *float64
	ReportConfidence *float64
	PublishedDate    *time.Time
	Params           models.ModelParams
	EPSS             *models.EPSSSignal
	HasExploit       bool
	KEV              bool
}

// Result holds the computed score and its intermediate terms.
type Result struct {
	SecScore        float64
	TemporalKernel  float64
	ExploitProb     float64
	ExploitMaturity float64
	EMin            float64
	Weeks           float64
}

// Engine computes SecScores with an injectable clock.
type Engine struct {
	log    *logger.Logger
	params ParamTable
	now    func() time.Time
}

// NewEngine creates a scoring engine backed by the given parameter table.
func NewEngine(log *logger.Logger, params ParamTable) *Engine {
	return &Engine{
		log:    log.WithComponent("scoring-engine"),
		params: params,
		now:    time.Now,
	}
}

// Params returns the parameters for a category with default fallback.
func (e *Engine) Params(category string) models.ModelParams {
	return e.params.ForCategory(category)
}

// WeeksSince returns the non-negative weeks elapsed since the published
// date at millisecond resolution; a missing date yields 0.
func (e *Engine) WeeksSince(published *time.Time) float64 {
	if published == nil {
		return 0
	}
	ms := float64(e.now().UnixMilli() - published.UnixMilli())
	weeks := ms / (7 * 86400 * 1000)
	if weeks < 0 {
		return 0
	}
	return weeks
}

// ComputeSecScore blends the temporal kernel, AL-CDF exploit probability,
// EPSS weight, PoC bonus, and KEV floor into a final [0,10] score.
func (e *Engine) ComputeSecScore(in Input) Result {
	baseScore := 0.0
	if in.CVSSBase != nil && !math.IsNaN(*in.CVSSBase) && !math.IsInf(*in.CVSSBase, 0) {
		baseScore = *in.CVSSBase
	}

	rl := 1.0
	if in.RemediationLevel != nil {
		rl = *in.RemediationLevel
	}
	rc := 1.0
	if in.ReportConfidence != nil {
		rc = *in.ReportConfidence
	}
	kernel := Round1(baseScore * rl * rc)

	weeks := e.WeeksSince(in.PublishedDate)
	p := AsymmetricLaplaceCDF(weeks, in.Params.Mu, in.Params.Lambda, in.Params.Kappa)

	eMin := eMinLegacy
	if strings.HasPrefix(in.CVSSVersion, "4") {
		eMin = clamp(cvssV4Maturity["U"]/cvssV4Maturity["A"], 0, 1)
	}
	maturity := eMin + (eMax-eMin)*p

	score := kernel * maturity
	if in.EPSS != nil {
		score += EPSSBlendWeight * in.EPSS.Score
	}
	if in.HasExploit {
		score += PoCBonusMax
	}
	if in.KEV && score < KEVMinFloor {
		score = KEVMinFloor
	}

	return Result{
		SecScore:        Round1(clamp(score, 0, 10)),
		TemporalKernel:  kernel,
		ExploitProb:     p,
		ExploitMaturity: maturity,
		EMin:            eMin,
		Weeks:           weeks,
	}
}

// ExplainContext carries everything needed to emit the explanation list.
type ExplainContext struct {
	Category string
	Params   models.ModelParams
	Result   Result
	KEV      bool
	Exploits []models.ExploitEvidence
	EPSS     *models.EPSSSignal
	CVSSBase *float64
}

// BuildExplanation emits the ordered explanation entries for a score.
func (e *Engine) BuildExplanation(ctx ExplainContext) []models.ExplanationEntry {
	entries := make([]models.ExplanationEntry, 0, 6)

	entries = append(entries, models.ExplanationEntry{
		Title: "Temporal model",
		Detail: fmt.Sprintf(
			"Category %q with AL(mu=%.2f, lambda=%.2f, kappa=%.2f) at %.2f weeks yields exploit probability %.3f; maturity E_S=%.3f applied to kernel K=%.1f",
			ctx.Category, ctx.Params.Mu, ctx.Params.Lambda, ctx.Params.Kappa,
			ctx.Result.Weeks, ctx.Result.ExploitProb, ctx.Result.ExploitMaturity,
			ctx.Result.TemporalKernel,
		),
		Source: "secscore",
	})

	if ctx.KEV {
		entries = append(entries, models.ExplanationEntry{
			Title:  "CISA KEV",
			Detail: fmt.Sprintf("Listed in the CISA Known Exploited Vulnerabilities catalog; minimum score floor %.1f applied", KEVMinFloor),
			Source: "cisa-kev",
		})
	}

	if len(ctx.Exploits) > 0 {
		detail := "Public proof-of-concept exploit available"
		if d := ctx.Exploits[0].PublishedDate; d != nil && *d != "" {
			detail = fmt.Sprintf("Public proof-of-concept exploit available (published %s)", formatEvidenceDate(*d))
		}
		entries = append(entries, models.ExplanationEntry{
			Title:  "Exploit PoC",
			Detail: detail,
			Source: "exploitdb",
		})
	}

	if ctx.EPSS != nil {
		entries = append(entries, models.ExplanationEntry{
			Title: "EPSS",
			Detail: fmt.Sprintf("EPSS added +%.2f (score %.3f, percentile %.2f)",
				EPSSBlendWeight*ctx.EPSS.Score, ctx.EPSS.Score, ctx.EPSS.Percentile),
			Source: "epss",
		})
	}

	if ctx.CVSSBase != nil {
		entries = append(entries, models.ExplanationEntry{
			Title:  "CVSS Base",
			Detail: fmt.Sprintf("CVSS base score %.1f used for kernel", *ctx.CVSSBase),
			Source: "cvss",
		})
	} else {
		entries = append(entries, models.ExplanationEntry{
			Title:  "CVSS Missing",
			Detail: "No CVSS base score available; temporal kernel defaults to 0",
			Source: "cvss",
		})
	}

	entries = append(entries, models.ExplanationEntry{
		Title:  "SecScore",
		Detail: fmt.Sprintf("Final SecScore %.1f", ctx.Result.SecScore),
		Source: "secscore",
	})

	return entries
}

// formatEvidenceDate trims evidence dates to YYYY-MM-DD when they carry
// a time component.
func formatEvidenceDate(d string) string {
	if len(d) > 10 {
		if t, err := time.Parse(time.RFC3339, d); err == nil {
			return t.Format("2006-01-02")
		}
		return d[:10]
	}
	return d
}
