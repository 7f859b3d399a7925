package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nvasile/amica/internal/audio"
	"github.com/nvasile/amica/internal/chat"
	"github.com/nvasile/amica/internal/completion"
	"github.com/nvasile/amica/internal/config"
	"github.com/nvasile/amica/internal/emotion"
	"github.com/nvasile/amica/internal/evi"
	"github.com/nvasile/amica/internal/httpapi"
	"github.com/nvasile/amica/internal/observability"
	"github.com/nvasile/amica/internal/reliability"
	"github.com/nvasile/amica/internal/store"
	"github.com/nvasile/amica/internal/transcript"
	"github.com/nvasile/amica/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	latency := observability.NewLatencyWindow(256)

	ctx := context.Background()
	remoteStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer remoteStore.Close()
	if cfg.DatabaseURL == "" {
		log.Printf("store: in-memory (DATABASE_URL not set)")
	} else {
		log.Printf("store: postgres")
	}

	retrying := store.NewRetrying(remoteStore, reliability.RetryPolicy{
		MaxAttempts: cfg.StoreRetryAttempts,
		Base:        reliability.DefaultRetryPolicy.Base,
		Cap:         reliability.DefaultRetryPolicy.Cap,
	}, func(op string) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
	})

	var cache *store.LocalCache
	if cfg.LocalCachePath != "" {
		cache, err = store.OpenLocalCache(cfg.LocalCachePath)
		if err != nil {
			log.Fatalf("local cache init failed: %v", err)
		}
		defer cache.Close()
		log.Printf("local cache: %s", cfg.LocalCachePath)
	}

	presets, err := config.LoadSessionPresets(cfg.SessionPresetsPath)
	if err != nil {
		log.Fatalf("session presets: %v", err)
	}
	var systemPrompt string
	var variables map[string]string
	if preset, ok := presets["default"]; ok {
		systemPrompt = preset.SystemPrompt
		variables = preset.Variables
		log.Printf("session preset: default (%d variables)", len(variables))
	}

	comp := completion.NewClient(completion.Config{
		BaseURL: cfg.CompletionBaseURL,
		APIKey:  cfg.CompletionAPIKey,
		Model:   cfg.CompletionModel,
	})
	emo := emotion.NewClient(emotion.Config{BaseURL: cfg.EmotionBaseURL})
	chatSvc := chat.NewService(chat.Config{SystemPrompt: systemPrompt}, retrying, comp, emo, metrics)

	// The controller is referenced by the hooks below before it is built.
	var ctrl *voice.Controller

	trans := transcript.NewStore(transcript.Config{
		VisibleLimit: cfg.VisibleBufferLimit,
		OnCommit: func(m transcript.Message) {
			sessionID := ctrl.BoundSession()
			if sessionID == "" {
				return
			}
			msg := store.StoredMessage{
				ID:        m.ID,
				SessionID: sessionID,
				Role:      m.Role,
				Content:   m.Content,
				Prosody:   m.Prosody,
				FromText:  m.FromText,
				CreatedAt: m.CreatedAt,
			}
			persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := chatSvc.PersistVoiceTurn(persistCtx, sessionID, msg); err != nil {
				log.Printf("persist voice turn failed: %v", err)
			}
			if cache != nil {
				if err := cache.AppendMessage(persistCtx, msg); err != nil {
					log.Printf("cache voice turn failed: %v", err)
				}
			}
		},
		OnInterruption: func() {
			metrics.Interruptions.Inc()
		},
	})

	var sink audio.Sink
	if cfg.PlaybackDumpPath != "" {
		f, err := os.OpenFile(cfg.PlaybackDumpPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.Fatalf("playback dump: %v", err)
		}
		defer f.Close()
		sink = writerSink{f}
		log.Printf("playback dump: %s", cfg.PlaybackDumpPath)
	}

	queue := audio.NewQueue(audio.QueueConfig{
		Sink:  sink,
		Paced: true,
		OnPlay: func(clipID string) {
			ctrl.HandleClipPlay(clipID)
		},
		OnStop: func(clipID string) {
			ctrl.HandleClipStop(clipID)
		},
		OnDepth: func(depth int) {
			metrics.PlaybackQueueDepth.Set(float64(depth))
		},
	})
	defer queue.Close()
	trans.BindPlayer(queue)

	var source audio.Source
	if cfg.CaptureWAVPath != "" {
		wavSource, closeWAV, err := audio.NewWAVFileSource(cfg.CaptureWAVPath, cfg.CaptureInterval)
		if err != nil {
			log.Fatalf("capture wav: %v", err)
		}
		defer closeWAV()
		source = wavSource
		log.Printf("capture source: wav file %s", cfg.CaptureWAVPath)
	} else {
		// No capture device configured; connect attempts fail with a mic
		// error until one is.
		source = audio.NewReaderSource(nil, cfg.CaptureSampleRate, cfg.CaptureInterval, true)
	}

	provider := evi.NewProvider(evi.Config{
		APIKey:         cfg.EVIAPIKey,
		WSBaseURL:      cfg.EVIWSBaseURL,
		ConfigID:       cfg.EVIConfigID,
		ConnectTimeout: cfg.ConnectTimeout,
	})

	ctrl = voice.NewController(voice.Config{
		Dial: func(dialCtx context.Context) (voice.Socket, <-chan any, error) {
			return provider.Connect(dialCtx)
		},
		Source:            source,
		Player:            queue,
		Transcript:        trans,
		SystemPrompt:      systemPrompt,
		Variables:         variables,
		ClearOnDisconnect: cfg.ClearOnDisconnect,
		Metrics:           metrics,
		Latency:           latency,
	})
	defer ctrl.Disconnect()

	api := httpapi.New(cfg, retrying, cache, chatSvc, ctrl, trans, metrics, latency)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	ctrl.Disconnect()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// writerSink adapts an io.Writer to the audio.Sink interface.
type writerSink struct {
	w io.Writer
}

func (s writerSink) Write(pcm []byte) error {
	_, err := s.w.Write(pcm)
	return err
}
