package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/mcpcerts"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Certificate lifecycle metrics
	CertificatesIssuedTotal   metric.Int64Counter
	CertificatesRevokedTotal  metric.Int64Counter
	CertificatesImportedTotal metric.Int64Counter
	CertificatesDeletedTotal  metric.Int64Counter
	OrphanedCertificatesTotal metric.Int64Counter

	// Registry metrics
	RegistryRequestsTotal   metric.Int64Counter
	RegistryErrorsTotal     metric.Int64Counter
	RegistryRequestDuration metric.Float64Histogram

	// Signing metrics
	SignaturesTotal    metric.Int64Counter
	VerificationsTotal metric.Int64Counter
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

	m.CertificatesIssuedTotal, _ = meter.Int64Counter(
		"mcpcerts.certificates.issued.total",
		metric.WithDescription("Total number of certificates issued by the registry"),
		metric.WithUnit("{certificate}"),
	)

	m.CertificatesRevokedTotal, _ = meter.Int64Counter(
		"mcpcerts.certificates.revoked.total",
		metric.WithDescription("Total number of certificates marked revoked locally"),
		metric.WithUnit("{certificate}"),
	)

	m.CertificatesImportedTotal, _ = meter.Int64Counter(
		"mcpcerts.certificates.imported.total",
		metric.WithDescription("Total number of registry certificates mirrored by sync"),
		metric.WithUnit("{certificate}"),
	)

	m.CertificatesDeletedTotal, _ = meter.Int64Counter(
		"mcpcerts.certificates.deleted.total",
		metric.WithDescription("Total number of certificates deleted locally"),
		metric.WithUnit("{certificate}"),
	)

	m.OrphanedCertificatesTotal, _ = meter.Int64Counter(
		"mcpcerts.certificates.orphaned.total",
		metric.WithDescription("Total number of issued certificates that could not be persisted locally"),
		metric.WithUnit("{certificate}"),
	)

	m.RegistryRequestsTotal, _ = meter.Int64Counter(
		"mcpcerts.registry.requests.total",
		metric.WithDescription("Total number of identity registry requests"),
		metric.WithUnit("{request}"),
	)

	m.RegistryErrorsTotal, _ = meter.Int64Counter(
		"mcpcerts.registry.errors.total",
		metric.WithDescription("Total number of failed identity registry requests"),
		metric.WithUnit("{error}"),
	)

	m.RegistryRequestDuration, _ = meter.Float64Histogram(
		"mcpcerts.registry.request.duration",
		metric.WithDescription("Duration of identity registry requests"),
		metric.WithUnit("ms"),
	)

	m.SignaturesTotal, _ = meter.Int64Counter(
		"mcpcerts.signatures.total",
		metric.WithDescription("Total number of payloads signed"),
		metric.WithUnit("{signature}"),
	)

	m.VerificationsTotal, _ = meter.Int64Counter(
		"mcpcerts.verifications.total",
		metric.WithDescription("Total number of signature verifications"),
		metric.WithUnit("{verification}"),
	)

	return m
}
