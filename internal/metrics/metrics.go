package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/profile"
)

const namespace = "panwhat"

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Analysis jobs by final or submission status.",
	}, []string{"status"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "job_queue_depth",
		Help:      "Jobs waiting for a worker.",
	})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "analysis_duration_seconds",
		Help:      "Wall time of a full transcript analysis.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	ProfilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "client_profiles_total",
		Help:      "Client profiles by source and enrichment outcome.",
	}, []string{"source", "outcome"})

	LLMTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_tokens_total",
		Help:      "Tokens spent on profile enrichment.",
	}, []string{"direction"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP API requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP API request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

const (
	OutcomeSuccess   = "success"
	OutcomeDisabled  = "disabled"
	OutcomeTimeout   = "timeout"
	OutcomeMalformed = "malformed"
	OutcomeFailure   = "failure"
)

// ProfileOutcome classifies how a client's profile was produced.
func ProfileOutcome(source string, reason error) string {
	switch {
	case reason == nil && source == domain.ProfileSourceAI:
		return OutcomeSuccess
	case reason == nil:
		return OutcomeDisabled
	case errors.Is(reason, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(reason, profile.ErrInvalidProfile):
		return OutcomeMalformed
	default:
		return OutcomeFailure
	}
}

// ObserveProfile matches analysis.Options.OnProfile.
func ObserveProfile(source string, reason error) {
	ProfilesTotal.WithLabelValues(source, ProfileOutcome(source, reason)).Inc()
}

func ObserveJob(status domain.JobStatus) {
	JobsTotal.WithLabelValues(string(status)).Inc()
}

func ObserveAnalysis(d time.Duration) {
	AnalysisDuration.Observe(d.Seconds())
}

func ObserveTokens(input, output int64) {
	if input > 0 {
		LLMTokensTotal.WithLabelValues("input").Add(float64(input))
	}
	if output > 0 {
		LLMTokensTotal.WithLabelValues("output").Add(float64(output))
	}
}

func ObserveHTTP(method, route string, status int, d time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
