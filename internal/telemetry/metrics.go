package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/mujeresenbici/rodada"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Submission pipeline metrics
	RegistrationsTotal        metric.Int64Counter
	CompanionsTotal           metric.Int64Counter
	ValidationRejectionsTotal metric.Int64Counter
	SubmissionFailuresTotal   metric.Int64Counter

	// Dashboard metrics
	DashboardLoadsTotal       metric.Int64Counter
	DashboardLoadErrorsTotal  metric.Int64Counter
	AggregateLoadDuration     metric.Float64Histogram
	AccessDecisionsTotal      metric.Int64Counter
	SessionConfirmationsTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.RegistrationsTotal, _ = meter.Int64Counter(
		"rodada.registrations.total",
		metric.WithDescription("Total number of primary registrations saved"),
		metric.WithUnit("{registration}"),
	)

	m.CompanionsTotal, _ = meter.Int64Counter(
		"rodada.companions.total",
		metric.WithDescription("Total number of companion entries saved"),
		metric.WithUnit("{companion}"),
	)

	m.ValidationRejectionsTotal, _ = meter.Int64Counter(
		"rodada.registrations.rejected.total",
		metric.WithDescription("Total number of submissions rejected by validation"),
		metric.WithUnit("{submission}"),
	)

	m.SubmissionFailuresTotal, _ = meter.Int64Counter(
		"rodada.registrations.failures.total",
		metric.WithDescription("Total number of submissions that failed to persist, by failed step"),
		metric.WithUnit("{submission}"),
	)

	m.DashboardLoadsTotal, _ = meter.Int64Counter(
		"rodada.dashboard.loads.total",
		metric.WithDescription("Total number of dashboard aggregate loads"),
		metric.WithUnit("{load}"),
	)

	m.DashboardLoadErrorsTotal, _ = meter.Int64Counter(
		"rodada.dashboard.load_errors.total",
		metric.WithDescription("Total number of dashboard loads that failed to fetch records"),
		metric.WithUnit("{error}"),
	)

	m.AggregateLoadDuration, _ = meter.Float64Histogram(
		"rodada.dashboard.load.duration",
		metric.WithDescription("Duration of fetching and aggregating dashboard records"),
		metric.WithUnit("ms"),
	)

	m.AccessDecisionsTotal, _ = meter.Int64Counter(
		"rodada.access.decisions.total",
		metric.WithDescription("Total number of access gate decisions, by outcome"),
		metric.WithUnit("{decision}"),
	)

	m.SessionConfirmationsTotal, _ = meter.Int64Counter(
		"rodada.sessions.confirmations.total",
		metric.WithDescription("Total number of post sign-in session confirmations, by result"),
		metric.WithUnit("{confirmation}"),
	)

	return m
}
