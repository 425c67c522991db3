package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	// CacheTTL reuses the last probe result for this long. Zero probes on every call.
	CacheTTL         time.Duration
}

type systemService struct {
	health repositories.HealthRepository
	now    func() time.Time
	build  BuildInfo
	ttl    time.Duration

	probes singleflight.Group

	mu      sync.Mutex
	last    domain.SystemHealthReport
	expires time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the readiness endpoint. Concurrent readiness
// calls share a single probe run.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock()
	}

	return &systemService{
		health: deps.HealthRepository,
		now:    func() time.Time { return clock().UTC() },
		build:  build,
		ttl:    deps.CacheTTL,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	now := s.now()
	if report, ok := s.cached(now); ok {
		return s.decorate(report, now), nil
	}

	v, err, _ := s.probes.Do("health", func() (any, error) {
		report, err := s.health.Collect(ctx)
		if err != nil {
			return nil, err
		}
		s.remember(report, s.now())
		return report, nil
	})
	if err != nil {
		return SystemHealthReport{}, err
	}
	return s.decorate(v.(domain.SystemHealthReport), now), nil
}

func (s *systemService) cached(now time.Time) (domain.SystemHealthReport, bool) {
	if s.ttl <= 0 {
		return domain.SystemHealthReport{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expires.IsZero() || !now.Before(s.expires) {
		return domain.SystemHealthReport{}, false
	}
	return s.last, true
}

func (s *systemService) remember(report domain.SystemHealthReport, now time.Time) {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.last = report
	s.expires = now.Add(s.ttl)
	s.mu.Unlock()
}

// decorate fills build metadata on a copy so cached reports are never mutated.
func (s *systemService) decorate(report domain.SystemHealthReport, now time.Time) SystemHealthReport {
	checks := make(map[string]domain.SystemHealthCheck, len(report.Checks))
	for name, check := range report.Checks {
		checks[name] = check
	}
	report.Checks = checks

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	} else {
		report.GeneratedAt = report.GeneratedAt.UTC()
	}
	if strings.TrimSpace(report.Version) == "" {
		report.Version = s.build.Version
	}
	if strings.TrimSpace(report.Environment) == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = worstStatus(checks)
	}
	return report
}

func worstStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
