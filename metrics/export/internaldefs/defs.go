package internaldefs

import (
	"github.com/MrEthical07/sessionguard"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   sessionguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   sessionguard.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: sessionguard.MetricSessionCreated, Name: "sessionguard_session_created_total", Help: "Created sessions."},
	{ID: sessionguard.MetricSessionValidated, Name: "sessionguard_session_validated_total", Help: "Validations that resolved a live session."},
	{ID: sessionguard.MetricSessionValidateMiss, Name: "sessionguard_session_validate_miss_total", Help: "Validations that returned no session."},
	{ID: sessionguard.MetricSessionLazyExpired, Name: "sessionguard_session_lazy_expired_total", Help: "Expired sessions removed on read."},
	{ID: sessionguard.MetricSessionRefreshed, Name: "sessionguard_session_refreshed_total", Help: "Sessions whose expiry was reset."},
	{ID: sessionguard.MetricSessionRefreshMiss, Name: "sessionguard_session_refresh_miss_total", Help: "Refreshes for unknown or expired sessions."},
	{ID: sessionguard.MetricLogout, Name: "sessionguard_logout_total", Help: "Single-session logouts."},
	{ID: sessionguard.MetricLogoutAll, Name: "sessionguard_logout_all_total", Help: "Logout-everywhere operations."},
	{ID: sessionguard.MetricSessionSwept, Name: "sessionguard_session_swept_total", Help: "Expired sessions deleted by cleanup."},
	{ID: sessionguard.MetricRateLimitAllowed, Name: "sessionguard_rate_limit_allowed_total", Help: "Rate-limit checks that allowed the attempt."},
	{ID: sessionguard.MetricRateLimitDenied, Name: "sessionguard_rate_limit_denied_total", Help: "Rate-limit checks that denied the attempt."},
	{ID: sessionguard.MetricRateLimitBlocked, Name: "sessionguard_rate_limit_blocked_total", Help: "Recorded attempts that started a block."},
	{ID: sessionguard.MetricAttemptRecorded, Name: "sessionguard_attempt_recorded_total", Help: "Recorded rate-limited attempts."},
	{ID: sessionguard.MetricRateLimitCleared, Name: "sessionguard_rate_limit_cleared_total", Help: "Administrative rate-limit clears."},
	{ID: sessionguard.MetricStoreUnavailable, Name: "sessionguard_store_unavailable_total", Help: "Store operations that failed or timed out."},
}

var HistogramDefs = []HistogramDef{
	{ID: sessionguard.MetricValidateLatency, Name: "sessionguard_validate_latency_seconds", Help: "ValidateSession latency."},
}

// AuditDroppedName is the counter for audit events lost to a full buffer.
const AuditDroppedName = "sessionguard_audit_dropped_total"

// HistogramBounds are the finite upper bounds, in seconds, of the engine's
// latency buckets. The engine keeps one more bucket for everything above.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// BucketCount is len(HistogramBounds) plus the overflow bucket.
const BucketCount = 8

// NormalizeBuckets copies raw into a fixed-size array, zero-filling.
func NormalizeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [BucketCount]uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
