package sessionguard

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/sessionguard/internal/rate"
)

// LintSeverity ranks a [LintWarning].
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is a non-fatal configuration advisory. Code is stable and
// suitable for allow-listing.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list returned by [Config.Lint].
type LintResult []LintWarning

func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds warnings at or above min into one error, or nil.
func (r LintResult) AsError(min LintSeverity) error {
	hits := r.BySeverity(min)
	if len(hits) == 0 {
		return nil
	}
	parts := make([]string, len(hits))
	for i, w := range hits {
		parts[i] = fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message)
	}
	return fmt.Errorf("config lint: %s", strings.Join(parts, "; "))
}

const (
	lintStoreTimeoutLong  = 5 * time.Second
	lintLoginAttemptsHigh = 20
)

// Lint reports settings that are valid but likely unintended. It never
// mutates c and does not replace [Config.Validate].
func (c Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, format string, args ...any) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	if c.Session.RefreshThreshold >= c.Session.IdleTimeout {
		add("refresh_threshold_exceeds_idle", LintHigh,
			"RefreshThreshold %s >= IdleTimeout %s: every session reports NeedsRefresh", c.Session.RefreshThreshold, c.Session.IdleTimeout)
	}

	for _, a := range rate.Actions {
		p, ok := c.RateLimit.Policies[a]
		if !ok {
			continue
		}
		if p.BlockDuration < p.Window {
			add("block_shorter_than_window", LintInfo,
				"%s block %s is shorter than window %s: a key can stay at max after the block ends", a, p.BlockDuration, p.Window)
		}
	}
	if p, ok := c.RateLimit.Policies[rate.ActionLogin]; ok && p.MaxAttempts > lintLoginAttemptsHigh {
		add("login_attempts_high", LintWarn,
			"login MaxAttempts %d is above %d", p.MaxAttempts, lintLoginAttemptsHigh)
	}

	if !c.Janitor.Enabled {
		add("janitor_disabled", LintWarn,
			"in-process janitor disabled: schedule sessionguardctl sweep externally")
	}

	if c.Store.OperationTimeout > lintStoreTimeoutLong {
		add("store_timeout_long", LintWarn,
			"Store OperationTimeout %s exceeds %s: request paths can stall during an outage", c.Store.OperationTimeout, lintStoreTimeoutLong)
	}

	if c.Session.RetentionGrace == 0 {
		add("retention_grace_zero", LintInfo,
			"Redis drops session keys exactly at expiry; sweeps will mostly find nothing to delete")
	}

	return ws
}
