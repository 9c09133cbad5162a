package health

import "context"

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates that an optional component is failing.
	Degraded Status = "degraded"
	// Unhealthy indicates that the database is unreachable.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Component names used in Report.Checks.
const (
	ComponentDatabase = "database"
	ComponentLeases   = "leases"
	ComponentMetadata = "metadata"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	db       Pinger
	leases   Pinger
	metadata Pinger
}

// New creates a Service. leases and metadata can be nil.
func New(db, leases, metadata Pinger) *Service {
	return &Service{db: db, leases: leases, metadata: metadata}
}

// Check runs health checks against all components. Without the database nothing
// can be served, so its failure makes the report Unhealthy; other failures degrade it.
func (s *Service) Check(ctx context.Context) Report {
	checks := map[string]CheckResult{ComponentDatabase: ping(ctx, s.db)}
	if s.leases != nil {
		checks[ComponentLeases] = ping(ctx, s.leases)
	}
	if s.metadata != nil {
		checks[ComponentMetadata] = ping(ctx, s.metadata)
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if checks[ComponentDatabase] == CheckError {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}

func ping(ctx context.Context, p Pinger) CheckResult {
	if err := p.Ping(ctx); err != nil {
		return CheckError
	}
	return CheckOK
}
