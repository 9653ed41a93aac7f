package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fieldsales_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "status"},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsales_evaluations_total",
			Help: "Total evaluation records created",
		},
		[]string{"method"},
	)

	BatchRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsales_batch_rows_total",
			Help: "Batch evaluation rows by outcome",
		},
		[]string{"outcome"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fieldsales_batch_duration_seconds",
			Help:    "Batch evaluation duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	CriteriaUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsales_criteria_upserts_total",
			Help: "Descriptive criteria written by bulk evaluations",
		},
		[]string{"action"},
	)

	CapacityRecomputes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsales_capacity_recomputes_total",
			Help: "Total province target recomputations",
		},
	)

	AllocationRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsales_allocation_requests_total",
			Help: "Per-customer allocation requests",
		},
		[]string{"status"},
	)

	LoginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsales_login_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	LocationUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fieldsales_location_updates_total",
			Help: "Marketer location updates received",
		},
	)

	LiveSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fieldsales_live_subscribers",
			Help: "Connected live location subscribers",
		},
	)

	StagingOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fieldsales_staging_operations_total",
			Help: "Upload staging operations",
		},
		[]string{"backend", "op", "status"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(EvaluationsTotal)
		prometheus.MustRegister(BatchRows)
		prometheus.MustRegister(BatchDuration)
		prometheus.MustRegister(CriteriaUpserts)
		prometheus.MustRegister(CapacityRecomputes)
		prometheus.MustRegister(AllocationRequests)
		prometheus.MustRegister(LoginAttempts)
		prometheus.MustRegister(LocationUpdates)
		prometheus.MustRegister(LiveSubscribers)
		prometheus.MustRegister(StagingOps)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
