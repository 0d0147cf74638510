package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secscorehq/secscore/pkg/logger"
	"github.com/secscorehq/secscore/pkg/models"
)

func testEngine(t *testing.T, table ParamTable) *Engine {
	t.Helper()
	if table == nil {
		table = ParamTable{CategoryDefault: {Mu: 26, Lambda: 0.35, Kappa: 1}}
	}
	return NewEngine(logger.New("error", "text"), table)
}

func fptr(v float64) *float64 { return &v }

func sptr(s string) *string { return &s }

func TestInferCategory(t *testing.T) {
	tests := []struct {
		name string
		cpe  []string
		want string
	}{
		{"empty list", nil, "default"},
		{"no match", []string{"cpe:2.3:a:vendor:product:1.0"}, "default"},
		{"php", []string{"cpe:/a:php:php:8.2"}, "php"},
		{"wordpress", []string{"cpe:2.3:a:wordpress:wordpress:6.0"}, "webapps"},
		{"windows", []string{"cpe:/o:microsoft:windows_server:2022"}, "windows"},
		{"linux kernel", []string{"cpe:/o:linux:linux_kernel:5.10"}, "linux"},
		{"android", []string{"cpe:2.3:o:google:android:13"}, "android"},
		{"ios", []string{"cpe:2.3:o:apple:iphone_os:16"}, "ios"},
		{"macos", []string{"cpe:2.3:o:apple:mac_os_x:13"}, "macos"},
		{"java", []string{"cpe:2.3:a:oracle:openjdk:17"}, "java"},
		{"asp", []string{"cpe:2.3:a:vendor:aspnet_core:6"}, "asp"},
		{"hardware part", []string{"cpe:2.3:h:cisco:router:1"}, "hardware"},
		{"firmware", []string{"cpe:2.3:o:vendor:device_firmware:2"}, "hardware"},
		{"remote", []string{"cpe:2.3:a:vendor:remote_desktop:1"}, "remote"},
		{"local", []string{"cpe:2.3:a:vendor:local_agent:1"}, "local"},
		{"case insensitive", []string{"CPE:/A:PHP:PHP:8.2"}, "php"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferCategory(tt.cpe))
		})
	}
}

func TestInferCategory_PriorityOrder(t *testing.T) {
	// PHP outranks Windows regardless of list order.
	cpe := []string{
		"cpe:/o:microsoft:windows_server:2022",
		"cpe:/a:php:php:8.2",
	}
	assert.Equal(t, "php", InferCategory(cpe))
}

func TestAsymmetricLaplaceCDF_NonFinite(t *testing.T) {
	assert.Zero(t, AsymmetricLaplaceCDF(math.NaN(), 1, 1, 1))
	assert.Zero(t, AsymmetricLaplaceCDF(1, math.Inf(1), 1, 1))
	assert.Zero(t, AsymmetricLaplaceCDF(1, 1, math.NaN(), 1))
	assert.Zero(t, AsymmetricLaplaceCDF(1, 1, 1, math.Inf(-1)))
}

func TestAsymmetricLaplaceCDF_AtMu(t *testing.T) {
	// At t==mu the CDF equals kappa^2/(1+kappa^2) exactly.
	kappa := 1.2
	want := kappa * kappa / (1 + kappa*kappa)
	assert.Equal(t, want, AsymmetricLaplaceCDF(4, 4, 0.5, kappa))

	assert.Equal(t, 0.5, AsymmetricLaplaceCDF(10, 10, 1, 1))
}

func TestAsymmetricLaplaceCDF_KnownValues(t *testing.T) {
	assert.InDelta(t, 0.256, AsymmetricLaplaceCDF(2, 4, 0.5, 1.2), 0.0005)
	assert.InDelta(t, 0.877, AsymmetricLaplaceCDF(6, 4, 0.5, 1.2), 0.0005)
}

func TestAsymmetricLaplaceCDF_NegativeTClampsToZero(t *testing.T) {
	assert.Equal(t,
		AsymmetricLaplaceCDF(0, 4, 0.5, 1.2),
		AsymmetricLaplaceCDF(-5, 4, 0.5, 1.2),
	)
}

func TestAsymmetricLaplaceCDF_BoundsAndMonotonicity(t *testing.T) {
	params := []models.ModelParams{
		{Mu: 4, Lambda: 0.5, Kappa: 1.2},
		{Mu: 26, Lambda: 0.35, Kappa: 1},
		{Mu: 0.1, Lambda: 3, Kappa: 0.4},
	}
	for _, p := range params {
		prev := -1.0
		for t0 := 0.0; t0 <= 200; t0 += 0.5 {
			f := AsymmetricLaplaceCDF(t0, p.Mu, p.Lambda, p.Kappa)
			require.GreaterOrEqual(t, f, 0.0)
			require.LessOrEqual(t, f, 1.0)
			require.GreaterOrEqual(t, f, prev, "CDF must be non-decreasing at t=%v", t0)
			prev = f
		}
	}
}

func TestAsymmetricLaplaceCDF_ExtremeExponents(t *testing.T) {
	// Far below mu the bounded exponent contributes exactly 0.
	assert.Zero(t, AsymmetricLaplaceCDF(0, 1e6, 10, 1))
	// Far above mu the CDF saturates at 1.
	assert.Equal(t, 1.0, AsymmetricLaplaceCDF(1e6, 1, 10, 1))
}

func TestRound1(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{6.84, 6.8},
		{6.85, 6.9},
		{0.25, 0.3},
		{-0.25, -0.3},
		{2.675, 2.7},
		{0, 0},
		{9.99, 10.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Round1(tt.in), "Round1(%v)", tt.in)
	}
	assert.Zero(t, Round1(math.NaN()))
}

func TestLoadParams(t *testing.T) {
	table, err := LoadParams([]byte(`{"default":{"mu":26,"lambda":0.35,"kappa":1},"php":{"mu":8,"lambda":0.55,"kappa":0.85}}`))
	require.NoError(t, err)
	assert.Equal(t, 8.0, table.ForCategory("php").Mu)
	// Unknown category falls back to default.
	assert.Equal(t, 26.0, table.ForCategory("nonexistent").Mu)

	_, err = LoadParams([]byte(`{"php":{"mu":8,"lambda":0.55,"kappa":0.85}}`))
	assert.Error(t, err)

	_, err = LoadParams([]byte(`not json`))
	assert.Error(t, err)
}

func TestComputeSecScore_TemporalBlend(t *testing.T) {
	// CVSS 7.5 with RL=0.95, RC=0.96 gives kernel 6.8; at t==mu with
	// kappa=1 the exploit probability is exactly 0.5.
	e := testEngine(t, nil)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	published := now.Add(-10 * 7 * 24 * time.Hour)

	res := e.ComputeSecScore(Input{
		CVSSBase:         fptr(7.5),
		CVSSVersion:      "3.1",
		RemediationLevel: fptr(0.95),
		ReportConfidence: fptr(0.96),
		PublishedDate:    &published,
		Params:           models.ModelParams{Mu: 10, Lambda: 1, Kappa: 1},
	})

	assert.Equal(t, 6.8, res.TemporalKernel)
	assert.InDelta(t, 0.5, res.ExploitProb, 1e-6)
	assert.Equal(t, 0.91, res.EMin)
	assert.InDelta(t, 0.955, res.ExploitMaturity, 1e-6)
	assert.Equal(t, 6.5, res.SecScore)
}

func TestComputeSecScore_KEVFloor(t *testing.T) {
	// A freshly published low-severity CVE on the KEV list floors at 8.
	e := testEngine(t, nil)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	published := now

	res := e.ComputeSecScore(Input{
		CVSSBase:      fptr(1.0),
		CVSSVersion:   "3.1",
		PublishedDate: &published,
		Params:        models.ModelParams{Mu: 100, Lambda: 1, Kappa: 1},
		KEV:           true,
	})

	assert.Equal(t, 1.0, res.TemporalKernel)
	assert.Zero(t, res.ExploitProb)
	assert.InDelta(t, 0.91, res.ExploitMaturity, 1e-9)
	assert.Equal(t, 8.0, res.SecScore)
}

func TestComputeSecScore_V4WithSignals(t *testing.T) {
	// CVSS v4 uses eMin 0.9; EPSS adds 2.5*score, the PoC adds 1.0.
	e := testEngine(t, nil)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	// Weeks chosen so the AL-CDF evaluates to 0.2:
	// 0.5*exp(weeks-10) = 0.2 at kappa=1, lambda=1.
	weeks := 10 + math.Log(0.4)
	published := now.Add(-time.Duration(weeks * 7 * 24 * float64(time.Hour)))

	res := e.ComputeSecScore(Input{
		CVSSBase:      fptr(4.0),
		CVSSVersion:   "4.0",
		PublishedDate: &published,
		Params:        models.ModelParams{Mu: 10, Lambda: 1, Kappa: 1},
		EPSS:          &models.EPSSSignal{Score: 0.42, Percentile: 0.9},
		HasExploit:    true,
	})

	assert.Equal(t, 4.0, res.TemporalKernel)
	assert.Equal(t, 0.9, res.EMin)
	assert.InDelta(t, 0.2, res.ExploitProb, 1e-3)
	assert.InDelta(t, 0.92, res.ExploitMaturity, 1e-3)
	assert.Equal(t, 5.7, res.SecScore)
}

func TestComputeSecScore_MissingPublishedDate(t *testing.T) {
	// No published date means weeks=0, so the probability is the CDF
	// at t=0.
	e := testEngine(t, nil)
	params := models.ModelParams{Mu: 4, Lambda: 0.5, Kappa: 1.2}

	res := e.ComputeSecScore(Input{
		CVSSBase:    fptr(5.0),
		CVSSVersion: "3.1",
		Params:      params,
	})

	assert.Zero(t, res.Weeks)
	assert.Equal(t, AsymmetricLaplaceCDF(0, params.Mu, params.Lambda, params.Kappa), res.ExploitProb)
}

func TestComputeSecScore_NilBase(t *testing.T) {
	e := testEngine(t, nil)
	res := e.ComputeSecScore(Input{
		CVSSVersion: "3.1",
		Params:      models.ModelParams{Mu: 4, Lambda: 0.5, Kappa: 1.2},
	})
	assert.Zero(t, res.TemporalKernel)
	assert.Zero(t, res.SecScore)
}

func TestComputeSecScore_AlwaysInRange(t *testing.T) {
	e := testEngine(t, nil)
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }
	old := now.Add(-500 * 7 * 24 * time.Hour)

	res := e.ComputeSecScore(Input{
		CVSSBase:      fptr(10.0),
		CVSSVersion:   "3.1",
		PublishedDate: &old,
		Params:        models.ModelParams{Mu: 4, Lambda: 0.5, Kappa: 1.2},
		EPSS:          &models.EPSSSignal{Score: 0.99, Percentile: 0.999},
		HasExploit:    true,
		KEV:           true,
	})

	assert.LessOrEqual(t, res.SecScore, 10.0)
	assert.GreaterOrEqual(t, res.SecScore, KEVMinFloor)
}

func TestBuildExplanation_FullOrdering(t *testing.T) {
	e := testEngine(t, nil)

	entries := e.BuildExplanation(ExplainContext{
		Category: "windows",
		Params:   models.ModelParams{Mu: 14, Lambda: 0.45, Kappa: 1},
		Result: Result{
			SecScore:        8.4,
			TemporalKernel:  6.3,
			ExploitProb:     0.42,
			ExploitMaturity: 0.95,
			Weeks:           12.5,
		},
		KEV:      true,
		Exploits: []models.ExploitEvidence{{Source: "exploitdb", PublishedDate: sptr("2024-05-01")}},
		EPSS:     &models.EPSSSignal{Score: 0.42, Percentile: 0.9},
		CVSSBase: fptr(7.2),
	})

	require.Len(t, entries, 6)
	assert.Equal(t, "Temporal model", entries[0].Title)
	assert.Equal(t, "CISA KEV", entries[1].Title)
	assert.Equal(t, "Exploit PoC", entries[2].Title)
	assert.Contains(t, entries[2].Detail, "2024-05-01")
	assert.Equal(t, "EPSS", entries[3].Title)
	assert.Contains(t, entries[3].Detail, "+1.05")
	assert.Equal(t, "CVSS Base", entries[4].Title)
	assert.Contains(t, entries[4].Detail, "7.2")
	assert.Equal(t, "SecScore", entries[5].Title)
	assert.Contains(t, entries[5].Detail, "8.4")

	assert.Equal(t, "cisa-kev", entries[1].Source)
	assert.Equal(t, "exploitdb", entries[2].Source)
	assert.Equal(t, "epss", entries[3].Source)
	assert.Equal(t, "cvss", entries[4].Source)
}

func TestBuildExplanation_MissingCVSS(t *testing.T) {
	e := testEngine(t, nil)

	entries := e.BuildExplanation(ExplainContext{
		Category: "default",
		Params:   models.ModelParams{Mu: 26, Lambda: 0.35, Kappa: 1},
		Result:   Result{},
	})

	require.Len(t, entries, 3)
	assert.Equal(t, "Temporal model", entries[0].Title)
	assert.Equal(t, "CVSS Missing", entries[1].Title)
	assert.Equal(t, "SecScore", entries[2].Title)
}
