package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/metrics"
	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
	"github.com/lokutor-ai/transcribe-pipeline/pkg/providers/asr"
	"github.com/lokutor-ai/transcribe-pipeline/pkg/providers/speaker"
	"github.com/lokutor-ai/transcribe-pipeline/pkg/providers/vad"
	"github.com/lokutor-ai/transcribe-pipeline/pkg/transport"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	cfg := loadConfig()

	asrModel, err := buildASR(cfg.SampleRate)
	if err != nil {
		log.Fatalf("Error: failed to build ASR backend: %v", err)
	}

	vadModel, err := buildVAD(cfg.SampleRate)
	if err != nil {
		log.Fatalf("Error: failed to build VAD backend: %v", err)
	}

	speakerModel := buildSpeaker(cfg.SampleRate)

	reg := prometheus.NewRegistry()
	promMetrics := metrics.New(reg)

	logger := stdLogger{}

	manager := pipeline.NewSessionManager()
	if err := manager.Init(cfg, asrModel, speakerModel, vadModel, logger, promMetrics); err != nil {
		log.Fatalf("Error: failed to initialize session manager: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/stream", transport.NewHandler(manager, logger))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok, active_sessions=%d\n", manager.ActiveSessions())
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("transcribe-server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Error: server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	fmt.Printf("\nShutting down...\n")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		log.Printf("session manager shutdown: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}

// loadConfig starts from the documented defaults and applies any
// overrides set in the environment, one variable per recognized option.
func loadConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.SampleRate = envInt("SAMPLE_RATE", cfg.SampleRate)
	cfg.ChunkSizeMS = envInt("CHUNK_SIZE_MS", cfg.ChunkSizeMS)
	cfg.VADBufferSeconds = envInt("VAD_BUFFER_SECONDS", cfg.VADBufferSeconds)
	cfg.VADBufferCleanupThreshold = envFloat("VAD_BUFFER_CLEANUP_THRESHOLD", cfg.VADBufferCleanupThreshold)
	cfg.VADBufferCleanupRatio = envFloat("VAD_BUFFER_CLEANUP_RATIO", cfg.VADBufferCleanupRatio)
	cfg.SilenceResetSeconds = envInt("SILENCE_RESET_SECONDS", cfg.SilenceResetSeconds)
	cfg.KeepAudioSeconds = envInt("KEEP_AUDIO_SECONDS", cfg.KeepAudioSeconds)
	cfg.SVThresholdBase = envFloat("SV_THRESHOLD_BASE", cfg.SVThresholdBase)
	cfg.SVMinDurationMS = int64(envInt("SV_MIN_DURATION_MS", int(cfg.SVMinDurationMS)))
	cfg.SVMinEnergyRMS = envFloat("SV_MIN_ENERGY_RMS", cfg.SVMinEnergyRMS)
	cfg.PauseThresholdMS = int64(envInt("PAUSE_THRESHOLD_MS", int(cfg.PauseThresholdMS)))
	cfg.EnableSmartLineBreak = envBool("ENABLE_SMART_LINE_BREAK", cfg.EnableSmartLineBreak)
	cfg.WorkerPoolSize = envInt("WORKER_POOL_SIZE", cfg.WorkerPoolSize)
	cfg.InferenceTimeoutMS = int64(envInt("INFERENCE_TIMEOUT_MS", int(cfg.InferenceTimeoutMS)))
	return cfg
}

// buildASR selects an ASR backend from ASR_PROVIDER: groq, openai,
// deepgram, assemblyai, or sherpa (local Whisper-family ONNX model).
// Defaults to groq.
func buildASR(sampleRate int) (pipeline.ASRModel, error) {
	provider := os.Getenv("ASR_PROVIDER")
	if provider == "" {
		provider = "groq"
	}

	switch provider {
	case "openai":
		key := requireEnv("OPENAI_API_KEY")
		return asr.NewOpenAIModel(key, sampleRate), nil
	case "deepgram":
		key := requireEnv("DEEPGRAM_API_KEY")
		return asr.NewDeepgramModel(key, sampleRate), nil
	case "assemblyai":
		key := requireEnv("ASSEMBLYAI_API_KEY")
		return asr.NewAssemblyAIModel(key), nil
	case "sherpa":
		return asr.NewSherpaOfflineModel(asr.SherpaWhisperConfig{
			Encoder:    requireEnv("SHERPA_WHISPER_ENCODER"),
			Decoder:    requireEnv("SHERPA_WHISPER_DECODER"),
			Tokens:     requireEnv("SHERPA_WHISPER_TOKENS"),
			Provider:   os.Getenv("SHERPA_PROVIDER"),
			NumThreads: envInt("SHERPA_NUM_THREADS", 1),
			SampleRate: sampleRate,
		}, pipeline.Language(os.Getenv("AGENT_LANGUAGE")))
	case "groq":
		fallthrough
	default:
		key := requireEnv("GROQ_API_KEY")
		return asr.NewGroqModel(key, sampleRate), nil
	}
}

// buildVAD selects a raw VAD collaborator from VAD_PROVIDER: rms (default,
// dependency-free) or silero (ONNX model, requires SILERO_MODEL_PATH).
func buildVAD(sampleRate int) (pipeline.VAD, error) {
	provider := os.Getenv("VAD_PROVIDER")
	if provider == "" {
		provider = "rms"
	}

	switch provider {
	case "silero":
		return vad.NewSileroDetector(vad.SileroConfig{
			ModelPath:  requireEnv("SILERO_MODEL_PATH"),
			SampleRate: sampleRate,
		})
	case "rms":
		fallthrough
	default:
		threshold := envFloat("RMS_VAD_THRESHOLD", 0.02)
		return vad.NewRMSDetector(threshold, sampleRate), nil
	}
}

// buildSpeaker selects a SpeakerModel from SPEAKER_PROVIDER: local
// (default, dependency-free) or http (hosted embedding endpoint).
func buildSpeaker(sampleRate int) pipeline.SpeakerModel {
	provider := os.Getenv("SPEAKER_PROVIDER")
	if provider == "" {
		provider = "local"
	}

	switch provider {
	case "http":
		return speaker.NewHTTPEmbeddingModel(
			"speaker-http",
			os.Getenv("SPEAKER_API_KEY"),
			requireEnv("SPEAKER_EMBEDDING_URL"),
			sampleRate,
		)
	case "local":
		fallthrough
	default:
		return speaker.NewLocalFeatureModel()
	}
}

func requireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("Error: %s must be set", name)
	}
	return v
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envFloat(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// stdLogger adapts the standard log package to pipeline.Logger.
type stdLogger struct{}

func (stdLogger) Debug(msg string, kv ...interface{}) { logKV("DEBUG", msg, kv...) }
func (stdLogger) Info(msg string, kv ...interface{})  { logKV("INFO", msg, kv...) }
func (stdLogger) Warn(msg string, kv ...interface{})  { logKV("WARN", msg, kv...) }
func (stdLogger) Error(msg string, kv ...interface{}) { logKV("ERROR", msg, kv...) }

func logKV(level, msg string, kv ...interface{}) {
	log.Printf("[%s] %s %v", level, msg, kv)
}
