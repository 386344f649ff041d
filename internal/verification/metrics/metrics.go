package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the census verification workflow.
type Metrics struct {
	TokensIssued     prometheus.Counter
	Validations      *prometheus.CounterVec
	Submissions      *prometheus.CounterVec
	AmendedFields    prometheus.Counter
	EmailsSent       prometheus.Counter
	RemindersSent    prometheus.Counter
	DeliveryFailures *prometheus.CounterVec
	SubmitDuration   prometheus.Histogram
	IssuanceDuration prometheus.Histogram
}

// New registers the verification metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "hrportal_verification_tokens_issued_total",
			Help: "Total number of verification tokens issued",
		}),
		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hrportal_verification_validations_total",
			Help: "Token validations by result",
		}, []string{"result"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hrportal_verification_submissions_total",
			Help: "Census submissions by outcome",
		}, []string{"outcome"}),
		AmendedFields: f.NewCounter(prometheus.CounterOpts{
			Name: "hrportal_verification_amended_fields_total",
			Help: "Trackable census fields changed by employees",
		}),
		EmailsSent: f.NewCounter(prometheus.CounterOpts{
			Name: "hrportal_verification_emails_sent_total",
			Help: "Initial verification emails accepted by the notifier",
		}),
		RemindersSent: f.NewCounter(prometheus.CounterOpts{
			Name: "hrportal_verification_reminders_sent_total",
			Help: "Reminder emails accepted by the notifier",
		}),
		DeliveryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hrportal_verification_delivery_failures_total",
			Help: "Notifier failures by message kind",
		}, []string{"kind"}),
		SubmitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hrportal_verification_submit_duration_seconds",
			Help:    "Duration of Submit operations",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		IssuanceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hrportal_verification_issuance_duration_seconds",
			Help:    "Duration of token issuance runs",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// The helpers below are nil-safe so services run without metrics in tests.

func (m *Metrics) AddTokensIssued(n int) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(float64(n))
}

func (m *Metrics) IncValidation(result string) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(result).Inc()
}

func (m *Metrics) IncSubmission(outcome string, amended int) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(outcome).Inc()
	m.AmendedFields.Add(float64(amended))
}

func (m *Metrics) IncEmailSent() {
	if m == nil {
		return
	}
	m.EmailsSent.Inc()
}

func (m *Metrics) IncReminderSent() {
	if m == nil {
		return
	}
	m.RemindersSent.Inc()
}

func (m *Metrics) IncDeliveryFailure(kind string) {
	if m == nil {
		return
	}
	m.DeliveryFailures.WithLabelValues(kind).Inc()
}

// ObserveSubmit records a Submit duration. Call with time.Now() at the start.
func (m *Metrics) ObserveSubmit(start time.Time) {
	if m == nil {
		return
	}
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

// ObserveIssuance records an issuance duration.
func (m *Metrics) ObserveIssuance(start time.Time) {
	if m == nil {
		return
	}
	m.IssuanceDuration.Observe(time.Since(start).Seconds())
}
