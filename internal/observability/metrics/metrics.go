// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_scribe"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram
	CommandsTotal   *prometheus.CounterVec

	// Upstream connection metrics
	UpstreamConnects  *prometheus.CounterVec
	UpstreamFallbacks *prometheus.CounterVec
	ConnectLatency    *prometheus.HistogramVec

	// Transcript metrics
	TranscriptsInterim prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	WordsIngested      prometheus.Counter
	ChunksFinalized    prometheus.Counter

	// Persistence metrics
	FlushesTotal    *prometheus.CounterVec
	FlushLatency    prometheus.Histogram
	ChunksPersisted prometheus.Counter
	ChunksPending   prometheus.Gauge
	ChunksAbandoned prometheus.Counter

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioFramesDropped  prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// STT metrics
	STTErrors         *prometheus.CounterVec
	STTUtteranceCount prometheus.Counter
	STTSpeechStarted  prometheus.Counter

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
	GRPCLatency  *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of client sessions opened",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently open client sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of client sessions in seconds",
			Buckets:   []float64{1, 10, 30, 60, 300, 600, 1200, 1800, 3600},
		}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total number of client control commands",
		}, []string{"type"}),

		// Upstream connection metrics
		UpstreamConnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_connects_total",
			Help:      "Upstream connection attempts by provider, VAD tier and result",
		}, []string{"provider", "vad", "result"}),
		UpstreamFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_fallbacks_total",
			Help:      "Connections retried without VAD events",
		}, []string{"provider"}),
		ConnectLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_connect_latency_seconds",
			Help:      "Upstream connection establishment latency in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),

		// Transcript metrics
		TranscriptsInterim: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_interim_total",
			Help:      "Total number of interim transcripts received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcripts received",
		}),
		WordsIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "words_ingested_total",
			Help:      "Total number of final words fed to the aggregator",
		}),
		ChunksFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_finalized_total",
			Help:      "Total number of speaker chunks finalized",
		}),

		// Persistence metrics
		FlushesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Persistence flushes by result",
		}, []string{"result"}),
		FlushLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_latency_seconds",
			Help:      "Read-append-write round trip latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		}),
		ChunksPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_persisted_total",
			Help:      "Total number of chunks written to the store",
		}),
		ChunksPending: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chunks_pending",
			Help:      "Chunks buffered in memory awaiting persistence",
		}),
		ChunksAbandoned: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_abandoned_total",
			Help:      "Chunks still pending when the drain timeout expired",
		}),

		// Audio metrics
		AudioBytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		AudioFramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Audio frames dropped because no upstream connection was live",
		}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// STT metrics
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),
		STTUtteranceCount: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_utterances_total",
			Help:      "Total number of utterance end signals",
		}),
		STTSpeechStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_speech_started_total",
			Help:      "Total number of voice-activity speech started events",
		}),

		// gRPC metrics
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC calls by method and status code",
		}, []string{"method", "code"}),
		GRPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_latency_seconds",
			Help:      "gRPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordSessionStart records a new session opening.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session closing.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordCommand records a client control command.
func (m *Metrics) RecordCommand(commandType string) {
	m.CommandsTotal.WithLabelValues(commandType).Inc()
}

// RecordConnect records one upstream connection attempt.
func (m *Metrics) RecordConnect(provider string, vad bool, err error, latencySeconds float64) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.UpstreamConnects.WithLabelValues(provider, strconv.FormatBool(vad), result).Inc()
	m.ConnectLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordFallback records a retry without VAD events.
func (m *Metrics) RecordFallback(provider string) {
	m.UpstreamFallbacks.WithLabelValues(provider).Inc()
}

// RecordInterimTranscript records an interim transcript received.
func (m *Metrics) RecordInterimTranscript() {
	m.TranscriptsInterim.Inc()
}

// RecordFinalTranscript records a final transcript and its word count.
func (m *Metrics) RecordFinalTranscript(words int) {
	m.TranscriptsFinal.Inc()
	m.WordsIngested.Add(float64(words))
}

// RecordChunksFinalized records chunks closed by the aggregator.
func (m *Metrics) RecordChunksFinalized(n int) {
	m.ChunksFinalized.Add(float64(n))
}

// RecordFlush records one flush attempt.
func (m *Metrics) RecordFlush(err error, chunks int, latencySeconds float64) {
	m.FlushLatency.Observe(latencySeconds)
	if err != nil {
		m.FlushesTotal.WithLabelValues("failure").Inc()
		return
	}
	m.FlushesTotal.WithLabelValues("success").Inc()
	m.ChunksPersisted.Add(float64(chunks))
}

// AddPending adjusts the pending chunk gauge.
func (m *Metrics) AddPending(delta int) {
	m.ChunksPending.Add(float64(delta))
}

// RecordAbandoned records chunks given up on at drain.
func (m *Metrics) RecordAbandoned(n int) {
	m.ChunksAbandoned.Add(float64(n))
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordAudioDropped records a frame dropped while not live.
func (m *Metrics) RecordAudioDropped() {
	m.AudioFramesDropped.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordUtterance records an utterance boundary detection.
func (m *Metrics) RecordUtterance() {
	m.STTUtteranceCount.Inc()
}

// RecordSpeechStarted records a voice-activity start event.
func (m *Metrics) RecordSpeechStarted() {
	m.STTSpeechStarted.Inc()
}

// RecordGRPCCall records one completed gRPC call.
func (m *Metrics) RecordGRPCCall(method, code string, latencySeconds float64) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
	m.GRPCLatency.WithLabelValues(method).Observe(latencySeconds)
}
