package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/storefront/api/internal/domain"
	"github.com/storefront/api/internal/repositories"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

var _ repositories.HealthRepository = (*stubHealthRepository)(nil)

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatalf("expected error when repository missing")
	}
}

func TestSystemServiceHealthReportAddsBuildInfo(t *testing.T) {
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(90 * time.Second)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
	}}

	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		Build:            BuildInfo{Version: "2.0.1", Environment: "staging", StartedAt: start},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Version != "2.0.1" || report.Environment != "staging" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Uptime != 90*time.Second {
		t.Fatalf("expected uptime 90s, got %s", report.Uptime)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generatedAt %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceStatusFromChecks(t *testing.T) {
	cases := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   string
	}{
		{name: "no checks", want: domain.HealthStatusOK},
		{name: "degraded", checks: map[string]domain.SystemHealthCheck{
			"redis":     {Status: domain.HealthStatusDegraded},
			"firestore": {Status: domain.HealthStatusOK},
		}, want: domain.HealthStatusDegraded},
		{name: "error wins", checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusError, Error: "deadline exceeded"},
			"redis":     {Status: domain.HealthStatusDegraded},
		}, want: domain.HealthStatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{
				report: domain.SystemHealthReport{Checks: tc.checks},
			}})
			if err != nil {
				t.Fatalf("NewSystemService: %v", err)
			}
			report, err := svc.HealthReport(context.Background())
			if err != nil {
				t.Fatalf("HealthReport: %v", err)
			}
			if report.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, report.Status)
			}
			if report.Checks == nil {
				t.Fatalf("expected non-nil checks map")
			}
		})
	}
}

func TestSystemServicePropagatesCollectError(t *testing.T) {
	collectErr := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: &stubHealthRepository{err: collectErr}, CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); !errors.Is(err, collectErr) {
		t.Fatalf("expected %v, got %v", collectErr, err)
	}
}

func TestSystemServiceCachesReportWithinTTL(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{"firestore": {Status: domain.HealthStatusOK}},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            func() time.Time { return now },
		CacheTTL:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	ctx := context.Background()

	first, err := svc.HealthReport(ctx)
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	first.Checks["tampered"] = domain.SystemHealthCheck{Status: domain.HealthStatusError}

	now = now.Add(4 * time.Second)
	second, err := svc.HealthReport(ctx)
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if repo.calls != 1 {
		t.Fatalf("expected cached report, got %d collect calls", repo.calls)
	}
	if _, ok := second.Checks["tampered"]; ok {
		t.Fatalf("cached report was mutated through a previous result")
	}

	now = now.Add(time.Second)
	if _, err := svc.HealthReport(ctx); err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if repo.calls != 2 {
		t.Fatalf("expected probe after expiry, got %d collect calls", repo.calls)
	}
}

func TestSystemServiceWithoutCacheProbesEveryCall(t *testing.T) {
	repo := &stubHealthRepository{}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.HealthReport(context.Background()); err != nil {
			t.Fatalf("HealthReport: %v", err)
		}
	}
	if repo.calls != 3 {
		t.Fatalf("expected 3 collect calls, got %d", repo.calls)
	}
}
