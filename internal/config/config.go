// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Service       ServiceConfig
	STT           STTConfig
	Chunk         ChunkConfig
	Persistence   PersistenceConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds listener ports and identity.
type ServiceConfig struct {
	Principal   string
	HTTPPort    string
	GRPCPort    string
	MetricsPort string
}

// STTConfig selects and tunes the upstream speech-to-text provider.
type STTConfig struct {
	Provider       string // mock, deepgram, google
	DeepgramAPIKey string
	Model          string
	LanguageCode   string
	SampleRateHz   int
	AudioEncoding  string
	InterimResults bool
	Diarize        bool
	VADEvents      bool
	UtteranceEndMs int
	ConnectTimeout time.Duration
}

// ChunkConfig tunes the chunk aggregator.
type ChunkConfig struct {
	MaxDuration time.Duration
}

// PersistenceConfig selects the store backend and tunes the write buffer.
type PersistenceConfig struct {
	Backend         string // memory, mongo
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	FlushDelay      time.Duration
	HighWaterMark   int
	DrainTimeout    time.Duration
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	TopicLive  string
	TopicChunk string
	Principal  string
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables. Values that fail to
// parse fall back to their defaults.
func Load() *Config {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-ai-scribe")

	return &Config{
		Service: ServiceConfig{
			Principal:   principal,
			HTTPPort:    envOrDefault("HTTP_PORT", "8080"),
			GRPCPort:    envOrDefault("GRPC_PORT", "50051"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			DeepgramAPIKey: os.Getenv("DEEPGRAM_API_KEY"),
			Model:          os.Getenv("STT_MODEL"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 16000),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "LINEAR16"),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			Diarize:        envOrDefaultBool("STT_DIARIZE", true),
			VADEvents:      envOrDefaultBool("STT_VAD_EVENTS", true),
			UtteranceEndMs: envOrDefaultInt("STT_UTTERANCE_END_MS", 1000),
			ConnectTimeout: envOrDefaultDuration("STT_CONNECT_TIMEOUT", 10*time.Second),
		},
		Chunk: ChunkConfig{
			MaxDuration: envOrDefaultDuration("CHUNK_MAX_DURATION", 30*time.Second),
		},
		Persistence: PersistenceConfig{
			Backend:         envOrDefault("PERSIST_BACKEND", "memory"),
			MongoURI:        envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
			MongoDatabase:   envOrDefault("MONGO_DATABASE", "scribe"),
			MongoCollection: envOrDefault("MONGO_COLLECTION", "transcripts"),
			FlushDelay:      envOrDefaultDuration("PERSIST_FLUSH_DELAY", 1500*time.Millisecond),
			HighWaterMark:   envOrDefaultInt("PERSIST_HIGH_WATER_MARK", 5),
			DrainTimeout:    envOrDefaultDuration("PERSIST_DRAIN_TIMEOUT", 30*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:    envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:    envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicLive:  envOrDefault("KAFKA_TOPIC_LIVE", "scribe.transcript.live"),
			TopicChunk: envOrDefault("KAFKA_TOPIC_CHUNKS", "scribe.transcript.chunk"),
			Principal:  envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
