package handler

import (
	"context"
	"net/http"

	"github.com/ClareAI/astra-call-agent/internal/config"
	"github.com/ClareAI/astra-call-agent/internal/engine"
	"github.com/ClareAI/astra-call-agent/internal/llm"
	"github.com/ClareAI/astra-call-agent/internal/registry"
	"github.com/ClareAI/astra-call-agent/internal/stt"
	"github.com/ClareAI/astra-call-agent/internal/tts"
	"github.com/ClareAI/astra-call-agent/pkg/gcs"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/ClareAI/astra-call-agent/pkg/pubsub"
	"github.com/ClareAI/astra-call-agent/pkg/redis"
	"github.com/ClareAI/astra-call-agent/pkg/twilio"
	"github.com/bytedance/gopkg/util/gopool"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HandlerManager creates all services and wires the routes. Missing optional
// dependencies (database, redis, object store, pubsub) degrade to warnings:
// the process still serves /health and live calls run without persistence.
type HandlerManager struct {
	config *config.Config
	engine *engine.Engine

	callRegistry *registry.CallRegistry
	gcsClient    *gcs.GCSClient
	pubsubSvc    *pubsub.PubSubService
	redisSvc     *redis.RedisService
	cache        *tts.PromptCache
}

// NewHandlerManager creates and initializes all services.
func NewHandlerManager(cfg *config.Config) (*HandlerManager, error) {
	ctx := context.Background()

	// Call registry: Postgres plus a redis layer for the TTS binding lookup.
	var redisSvc *redis.RedisService
	redisSvc, err := redis.NewRedisService(&redis.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Base().Warn("redis unavailable, binding cache disabled", zap.Error(err))
		redisSvc = nil
	}

	var callRegistry *registry.CallRegistry
	if db, err := registry.Connect(); err != nil {
		logger.Base().Warn("call registry unavailable, continuing without persistence", zap.Error(err))
	} else {
		callRegistry = registry.NewCallRegistry(db, redisSvc)
	}

	// Object store behind the greeting/filler caches.
	var gcsClient *gcs.GCSClient
	var store tts.ObjectStore
	if cfg.GCSBucket != "" {
		gcsClient, err = gcs.NewGCSClient(ctx, cfg.GCSBucket)
		if err != nil {
			logger.Base().Warn("object store unavailable, audio cache is memory-only", zap.Error(err))
		} else {
			store = gcsClient
		}
	}

	transcoder := tts.NewTranscoder("")
	synthesizer := tts.NewSynthesizer(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.GoogleTTSAPIKey, transcoder)
	cache := tts.NewPromptCache(synthesizer.SynthesizeULaw, store, cfg.FillerVersion)

	// Prime the default-config greeting and filler off the startup path.
	if cfg.OpenAIAPIKey != "" || cfg.GoogleTTSAPIKey != "" {
		gopool.Go(func() {
			cache.Prime(context.Background(), cfg.TTSEngine, cfg.TTSVoice, cfg.TTSSpeed,
				cfg.GreetingText, cfg.FillerText)
		})
	} else {
		logger.Base().Error("no TTS credentials configured; calls will be rejected with silence")
	}
	if cfg.OpenAIAPIKey == "" {
		logger.Base().Error("OPENAI_API_KEY missing; transcription and replies are disabled")
	}

	// Post-call pipeline trigger.
	var pubsubSvc *pubsub.PubSubService
	if cfg.PubSubProjectID != "" {
		pubsubSvc, err = pubsub.NewPubSubService(ctx, &pubsub.PubSubConfig{
			ProjectID: cfg.PubSubProjectID,
			TopicName: cfg.PubSubTopic,
		})
		if err != nil {
			logger.Base().Warn("pubsub unavailable, call summaries disabled", zap.Error(err))
			pubsubSvc = nil
		}
	}

	redirect := twilio.NewRedirectService(cfg.TwilioAccountSID, cfg.TwilioAuthToken)

	sttClient := stt.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.WhisperModel, cfg.STTLanguage)
	chatClient := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)

	var engReg engine.Registry
	if callRegistry != nil {
		engReg = callRegistry
	}
	var engPub engine.SummaryPublisher
	if pubsubSvc != nil {
		engPub = pubsubSvc
	}
	var engRedirect engine.CallRedirector
	if redirect.IsEnabled() {
		engRedirect = redirect
	}

	eng := engine.New(cfg, sttClient, chatClient, synthesizer, cache, transcoder,
		engReg, engPub, engRedirect)

	return &HandlerManager{
		config:       cfg,
		engine:       eng,
		callRegistry: callRegistry,
		gcsClient:    gcsClient,
		pubsubSvc:    pubsubSvc,
		redisSvc:     redisSvc,
		cache:        cache,
	}, nil
}

// Engine exposes the dialog engine.
func (hm *HandlerManager) Engine() *engine.Engine {
	return hm.engine
}

// SetupAllRoutes registers every route with middleware.
func (hm *HandlerManager) SetupAllRoutes(router *mux.Router) {
	router.Use(CORSMiddleware)
	router.Use(GlobalLoggingMiddleware)

	control := NewControlHandler(hm.engine)
	router.HandleFunc("/health", control.HandleHealth).Methods(http.MethodGet)

	stream := NewStreamHandler(hm.engine)
	router.HandleFunc(StreamPath, stream.ServeStream)

	voice := NewVoiceWebhookHandler(hm.callRegistry, hm.config.TwilioAuthToken, hm.config.PublicBaseURL)
	router.HandleFunc("/voice", voice.HandleVoice).Methods(http.MethodPost)

	// Operator control surface, JWT-protected when SECRET_KEY is set.
	guard := APIKeyMiddleware(hm.config.SecretKey)
	router.Handle("/transfer", guard(http.HandlerFunc(control.HandleTransfer))).Methods(http.MethodPost)
	router.Handle("/ai-response", guard(http.HandlerFunc(control.HandleAIResponse))).Methods(http.MethodPost)
	router.Handle("/speak", guard(http.HandlerFunc(control.HandleSpeak))).Methods(http.MethodPost)

	static := NewStaticHandler("static")
	static.SetupStaticRoutes(router)

	logger.Base().Info("all application routes registered")
}

// Close tears down live sessions and releases shared clients on shutdown.
func (hm *HandlerManager) Close() {
	hm.engine.CloseAll()
	if hm.gcsClient != nil {
		_ = hm.gcsClient.Close()
	}
	if hm.pubsubSvc != nil {
		_ = hm.pubsubSvc.Close()
	}
	if hm.redisSvc != nil {
		_ = hm.redisSvc.Close()
	}
}
