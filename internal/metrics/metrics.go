package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_session_operations_total",
			Help: "Avatar session start/end attempts by result",
		},
		[]string{"operation", "result"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "avatar_active_sessions",
			Help: "Number of connected avatar sessions",
		},
	)

	ModeSwitches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_mode_switches_total",
			Help: "Interaction mode transitions by target mode and result",
		},
		[]string{"mode", "result"},
	)

	SpeakRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_speak_requests_total",
			Help: "Speak calls sent to the avatar provider by source and result",
		},
		[]string{"source", "result"},
	)

	Transcriptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_transcriptions_total",
			Help: "Speech-to-text requests by result",
		},
		[]string{"result"},
	)

	TranscriptionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "avatar_transcription_latency_seconds",
			Help: "Speech-to-text request latency in seconds",
		},
	)

	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "avatar_tokens_issued_total",
			Help: "Provider access tokens requested by result",
		},
		[]string{"result"},
	)
)

// Result 把错误折算为指标标签。
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
