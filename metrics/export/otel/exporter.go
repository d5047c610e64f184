package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/sessionguard"
	"github.com/MrEthical07/sessionguard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() sessionguard.MetricsSnapshot
	AuditDropped() uint64
	AuditCoalesced() uint64
}

// Attribute keys used on grouped instruments.
const (
	EventKey   = attribute.Key("event")
	OutcomeKey = attribute.Key("outcome")
	BoundKey   = attribute.Key("le")
)

type member struct {
	id    sessionguard.MetricID
	value string
}

// family is one observable counter whose data points are engine counters
// told apart by a single attribute.
type family struct {
	name    string
	help    string
	key     attribute.Key
	members []member
}

var families = []family{
	{
		name: "sessionguard.session.operations",
		help: "Session lifecycle operations by event.",
		key:  EventKey,
		members: []member{
			{sessionguard.MetricSessionCreated, "created"},
			{sessionguard.MetricSessionValidated, "validated"},
			{sessionguard.MetricSessionValidateMiss, "validate_miss"},
			{sessionguard.MetricSessionLazyExpired, "lazy_expired"},
			{sessionguard.MetricSessionRefreshed, "refreshed"},
			{sessionguard.MetricSessionRefreshMiss, "refresh_miss"},
			{sessionguard.MetricLogout, "logout"},
			{sessionguard.MetricLogoutAll, "logout_all"},
			{sessionguard.MetricSessionSwept, "swept"},
		},
	},
	{
		name: "sessionguard.rate_limit.checks",
		help: "Rate-limit checks by outcome.",
		key:  OutcomeKey,
		members: []member{
			{sessionguard.MetricRateLimitAllowed, "allowed"},
			{sessionguard.MetricRateLimitDenied, "denied"},
		},
	},
	{
		name: "sessionguard.rate_limit.events",
		help: "Recorded attempts, started blocks and administrative clears.",
		key:  EventKey,
		members: []member{
			{sessionguard.MetricAttemptRecorded, "attempt_recorded"},
			{sessionguard.MetricRateLimitBlocked, "block_started"},
			{sessionguard.MetricRateLimitCleared, "cleared"},
		},
	},
	{
		name: "sessionguard.store.failures",
		help: "Store operations that failed or timed out.",
		key:  OutcomeKey,
		members: []member{
			{sessionguard.MetricStoreUnavailable, "unavailable"},
		},
	},
}

const (
	auditName    = "sessionguard.audit.undelivered"
	latencyName  = "sessionguard.session.validate.latency"
	auditDropped = "dropped"
	auditFolded  = "coalesced"
)

type observedFamily struct {
	instrument metric.Int64ObservableCounter
	ids        []sessionguard.MetricID
	attrs      []metric.ObserveOption
}

type observedLatency struct {
	id      sessionguard.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableCounter
	bounds  [internaldefs.BucketCount]metric.ObserveOption
}

// OTelExporter publishes engine metrics as OTel observable instruments.
// Counters are grouped into a few instruments carrying an event or outcome
// attribute. The validate latency histogram becomes one cumulative gauge
// with an le attribute per bucket plus a sample counter.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	families     []observedFamily
	latency      []observedLatency
	audit        metric.Int64ObservableCounter
	auditAttrs   [2]metric.ObserveOption
}

// NewOTelExporter registers observable instruments on meter that read from
// engine on each collection. Call Close to unregister.
func NewOTelExporter(meter metric.Meter, engine *sessionguard.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{source: source}
	observables := make([]metric.Observable, 0, len(families)+2*len(internaldefs.HistogramDefs)+1)

	for _, f := range families {
		ins, err := meter.Int64ObservableCounter(f.name, metric.WithDescription(f.help), metric.WithUnit("{operation}"))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", f.name, err)
		}
		of := observedFamily{instrument: ins}
		for _, m := range f.members {
			of.ids = append(of.ids, m.id)
			of.attrs = append(of.attrs, metric.WithAttributeSet(attribute.NewSet(f.key.String(m.value))))
		}
		exporter.families = append(exporter.families, of)
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		if def.ID != sessionguard.MetricValidateLatency {
			continue
		}
		ol := observedLatency{id: def.ID}
		var err error
		ol.buckets, err = meter.Int64ObservableGauge(latencyName+".bucket",
			metric.WithDescription("Cumulative count of validations at or below each le bound."),
			metric.WithUnit("{validation}"))
		if err != nil {
			return nil, fmt.Errorf("create latency bucket gauge: %w", err)
		}
		ol.count, err = meter.Int64ObservableCounter(latencyName+".count",
			metric.WithDescription(def.Help),
			metric.WithUnit("{validation}"))
		if err != nil {
			return nil, fmt.Errorf("create latency count counter: %w", err)
		}
		for i := range ol.bounds {
			ol.bounds[i] = metric.WithAttributeSet(attribute.NewSet(BoundKey.String(boundLabel(i))))
		}
		exporter.latency = append(exporter.latency, ol)
		observables = append(observables, ol.buckets, ol.count)
	}

	audit, err := meter.Int64ObservableCounter(auditName,
		metric.WithDescription("Audit events not delivered on their own, by outcome."),
		metric.WithUnit("{event}"))
	if err != nil {
		return nil, fmt.Errorf("create audit counter: %w", err)
	}
	exporter.audit = audit
	exporter.auditAttrs = [2]metric.ObserveOption{
		metric.WithAttributeSet(attribute.NewSet(OutcomeKey.String(auditDropped))),
		metric.WithAttributeSet(attribute.NewSet(OutcomeKey.String(auditFolded))),
	}
	observables = append(observables, audit)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, f := range e.families {
		for i, id := range f.ids {
			observer.ObserveInt64(f.instrument, int64(snapshot.Counters[id]), f.attrs[i])
		}
	}
	for _, l := range e.latency {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[l.id]))
		for i, v := range cumulative {
			observer.ObserveInt64(l.buckets, int64(v), l.bounds[i])
		}
		observer.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.audit, int64(e.source.AuditDropped()), e.auditAttrs[0])
	observer.ObserveInt64(e.audit, int64(e.source.AuditCoalesced()), e.auditAttrs[1])
	return nil
}

// boundLabel renders the upper bound of bucket i in seconds, "+Inf" for the
// overflow bucket.
func boundLabel(i int) string {
	if i >= len(internaldefs.HistogramBounds) {
		return "+Inf"
	}
	return strconv.FormatFloat(internaldefs.HistogramBounds[i], 'f', -1, 64)
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
