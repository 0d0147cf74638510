// Package enrich implements the per-request signal orchestrator: cache
// lookup, parallel upstream fan-out, local KEV and ExploitDB checks,
// engine invocation, and response assembly.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/secscorehq/secscore/internal/cache"
	"github.com/secscorehq/secscore/internal/exploitdb"
	"github.com/secscorehq/secscore/internal/kev"
	"github.com/secscorehq/secscore/internal/metrics"
	"github.com/secscorehq/secscore/internal/scoring"
	"github.com/secscorehq/secscore/internal/upstream"
	"github.com/secscorehq/secscore/pkg/logger"
	"github.com/secscorehq/secscore/pkg/models"
)

const tracerName = "github.com/secscorehq/secscore/internal/enrich"

// Service fuses the upstream and local signals for a single CVE.
type Service struct {
	log       *logger.Logger
	cache     cache.Cache
	upstream  *upstream.Client
	catalog   *kev.Catalog
	scheduler *kev.Scheduler
	exploits  *exploitdb.Index
	engine    *scoring.Engine
	now       func() time.Time
}

// NewService wires the orchestrator from its collaborators.
func NewService(
	log *logger.Logger,
	c cache.Cache,
	up *upstream.Client,
	catalog *kev.Catalog,
	scheduler *kev.Scheduler,
	exploits *exploitdb.Index,
	engine *scoring.Engine,
) *Service {
	return &Service{
		log:       log.WithComponent("enrich-service"),
		cache:     c,
		upstream:  up,
		catalog:   catalog,
		scheduler: scheduler,
		exploits:  exploits,
		engine:    engine,
		now:       time.Now,
	}
}

// KEVUpdatedAt returns when the KEV dataset was last refreshed; the
// zero time when unknown. Accessing the catalog arms the refresh
// scheduler.
func (s *Service) KEVUpdatedAt() time.Time {
	s.scheduler.EnsureStarted()
	return s.catalog.Snapshot().UpdatedAt()
}

// KEVCount returns the size of the current KEV dataset.
func (s *Service) KEVCount() int {
	return s.catalog.Snapshot().Count()
}

// RefreshKEV triggers the idempotent catalog refresh shared with the
// scheduler.
func (s *Service) RefreshKEV(ctx context.Context) (models.RefreshResult, error) {
	return s.catalog.Refresh(ctx)
}

// CacheStats exposes the response cache statistics.
func (s *Service) CacheStats() *cache.Stats {
	return s.cache.Stats()
}

// Metadata returns the normalized NVD record for a CVE, from cache when
// fresh. The boolean reports a cache hit.
func (s *Service) Metadata(ctx context.Context, cveID string) (json.RawMessage, bool, error) {
	key := cache.CVEKey(cveID)
	if cached, ok := s.cache.Get(ctx, key); ok {
		metrics.CacheHits.WithLabelValues("cve").Inc()
		return cached, true, nil
	}
	metrics.CacheMisses.WithLabelValues("cve").Inc()

	meta, err := s.upstream.FetchNVD(ctx, cveID)
	if err != nil {
		return nil, false, err
	}
	meta.ModelVersion = scoring.ModelVersion

	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := s.cache.Put(ctx, key, payload); err != nil {
		s.log.WithContext(ctx).Warn("failed to cache metadata", "error", err)
	}
	return payload, false, nil
}

// Enrich computes the full SecScore response for a CVE, from cache when
// fresh. The boolean reports a cache hit. A CVE unknown to NVD surfaces
// as upstream.ErrNotFound.
func (s *Service) Enrich(ctx context.Context, cveID string) (json.RawMessage, bool, error) {
	s.scheduler.EnsureStarted()

	key := cache.EnrichKey(cveID)
	if cached, ok := s.cache.Get(ctx, key); ok {
		metrics.CacheHits.WithLabelValues("enrich").Inc()
		return cached, true, nil
	}
	metrics.CacheMisses.WithLabelValues("enrich").Inc()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "enrich.compute",
		trace.WithAttributes(attribute.String("cve.id", cveID)))
	defer span.End()

	resp, err := s.compute(ctx, cveID)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := s.cache.Put(ctx, key, payload); err != nil {
		s.log.WithContext(ctx).Warn("failed to cache enrichment", "error", err)
	}
	return payload, false, nil
}

// compute runs the fan-out and scoring for one CVE.
func (s *Service) compute(ctx context.Context, cveID string) (*models.SecScoreResponse, error) {
	var (
		wg     sync.WaitGroup
		meta   *models.CVEMetadata
		nvdErr error
		epss   *models.EPSSSignal
		osv    []models.OSVAffected
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		meta, nvdErr = s.upstream.FetchNVD(ctx, cveID)
	}()
	go func() {
		defer wg.Done()
		epss = s.upstream.FetchEPSS(ctx, cveID)
	}()
	go func() {
		defer wg.Done()
		osv = s.upstream.FetchOSV(ctx, cveID)
	}()

	// KEV and ExploitDB are local, synchronous lookups.
	_, inKEV := s.catalog.Contains(cveID)
	exploits := s.exploits.Lookup(cveID)
	if exploits == nil {
		exploits = []models.ExploitEvidence{}
	}

	wg.Wait()
	if nvdErr != nil {
		return nil, nvdErr
	}

	category := scoring.InferCategory(meta.CPE)
	params := s.engine.Params(category)

	result := s.engine.ComputeSecScore(scoring.Input{
		CVSSBase:         meta.CVSSBase,
		CVSSVersion:      meta.CVSSVersion,
		RemediationLevel: meta.TemporalMultipliers.RemediationLevel,
		ReportConfidence: meta.TemporalMultipliers.ReportConfidence,
		PublishedDate:    meta.PublishedDate,
		Params:           params,
		EPSS:             epss,
		HasExploit:       len(exploits) > 0,
		KEV:              inKEV,
	})

	explanation := s.engine.BuildExplanation(scoring.ExplainContext{
		Category: category,
		Params:   params,
		Result:   result,
		KEV:      inKEV,
		Exploits: exploits,
		EPSS:     epss,
		CVSSBase: meta.CVSSBase,
	})

	s.log.WithContext(ctx).Info("computed SecScore",
		"cve_id", cveID,
		"secscore", result.SecScore,
		"category", category,
		"kev", inKEV,
		"exploits", len(exploits),
	)

	return &models.SecScoreResponse{
		CVEID:         cveID,
		PublishedDate: meta.PublishedDate,
		CVSSBase:      meta.CVSSBase,
		CVSSVector:    meta.CVSSVector,
		SecScore:      result.SecScore,
		ExploitProb:   result.ExploitProb,
		ModelCategory: category,
		ModelParams:   params,
		EPSS:          epss,
		Exploits:      exploits,
		KEV:           inKEV,
		OSV:           osv,
		Explanation:   explanation,
		ComputedAt:    s.now().UTC(),
		ModelVersion:  scoring.ModelVersion,
	}, nil
}
