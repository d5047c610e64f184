package sessionguard

import "time"

// SecurityReport summarises the effective security posture of an Engine for
// startup logging and health endpoints.
type SecurityReport struct {
	SessionBackend        string
	AttemptBackend        string
	IdleTimeout           time.Duration
	RefreshThreshold      time.Duration
	RateLimits            map[string]RateLimitPolicy
	JanitorEnabled        bool
	JanitorInterval       time.Duration
	StoreOperationTimeout time.Duration
	AuditEnabled          bool
	MetricsEnabled        bool
	LintCodes             []string
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	limits := make(map[string]RateLimitPolicy, len(e.config.RateLimit.Policies))
	for a, p := range e.config.RateLimit.Policies {
		limits[a.String()] = p
	}

	return SecurityReport{
		SessionBackend:        e.sessionBackend,
		AttemptBackend:        e.attemptBackend,
		IdleTimeout:           e.config.Session.IdleTimeout,
		RefreshThreshold:      e.config.Session.RefreshThreshold,
		RateLimits:            limits,
		JanitorEnabled:        e.janitor != nil,
		JanitorInterval:       e.config.Janitor.Interval,
		StoreOperationTimeout: e.config.Store.OperationTimeout,
		AuditEnabled:          e.audit != nil,
		MetricsEnabled:        e.metrics.Enabled(),
		LintCodes:             e.config.Lint().Codes(),
	}
}
