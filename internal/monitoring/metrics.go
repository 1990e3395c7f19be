package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "waterextent"

var (
	// DataQualityWarnings counts non-fatal data-quality events by kind.
	DataQualityWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_quality_warnings_total",
			Help:      "Data-quality warnings raised while processing, by kind",
		},
		[]string{"kind"},
	)

	// AreaRecords counts emitted area records by status.
	AreaRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "area_records_total",
			Help:      "Area records emitted, by status",
		},
		[]string{"status"}, // "ok", "no_images", "resource_limit", "error"
	)

	// StageDuration measures wall time per pipeline stage.
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent per pipeline stage",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"stage"}, // "train", "classify", "composite", "zonal", "evaluate"
	)

	// ImagesClassified counts images passed through a classifier, by modality.
	ImagesClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_classified_total",
			Help:      "Images classified, by modality",
		},
		[]string{"modality"},
	)

	// ExternalRetries counts retried raster service reads.
	ExternalRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_service_retries_total",
			Help:      "Retried reads against the remote raster service",
		},
	)
)

// Registry holds every collector above. It is separate from the default
// registry so tests and embedding programs stay isolated.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(DataQualityWarnings, AreaRecords, StageDuration, ImagesClassified, ExternalRetries)
}
