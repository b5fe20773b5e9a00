package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirecekd/trnda/internal/auth"
	"github.com/mirecekd/trnda/internal/config"
	"github.com/mirecekd/trnda/internal/domain"
	"github.com/mirecekd/trnda/internal/handler"
	"github.com/mirecekd/trnda/internal/notify"
	"github.com/mirecekd/trnda/internal/repository"
	"github.com/mirecekd/trnda/internal/service"
	"github.com/mirecekd/trnda/pkg/render"
)

type Server struct {
	httpServer *http.Server
	sessions   *service.Sessions
	notifier   notify.Notifier
	cfg        *config.Config
	log        *zap.Logger
	sweepCtx   context.Context
	stop       context.CancelFunc
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	store, err := repository.NewObjectStore(ctx, &cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store: %w", err)
	}

	gate, err := newGate(&cfg.Auth, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth gate: %w", err)
	}

	tokens, err := newTokenIssuer(&cfg.Auth, cfg.App.SessionTTL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	notifier := notify.Noop()
	if cfg.Kafka.Enabled {
		notifier = notify.NewKafkaNotifier(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	}

	renderer := render.NewImageRenderer(log)
	keys := service.NewKeyGenerator(time.Now)

	sessions := service.NewSessions(func() *service.Pipeline {
		return service.NewPipeline(renderer, store, cfg.Storage.BucketName, log,
			service.WithResetDelay(cfg.App.ResetDelay),
			service.WithKeyGenerator(keys),
			service.WithNotifier(notifier),
		)
	}, cfg.App.SessionTTL, log)

	h := handler.NewHandler(sessions, gate, tokens, store, renderer, log)

	if cfg.Server.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	sweepCtx, stop := context.WithCancel(context.Background())

	server := &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:           NewRouter(h, log),
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// uploads of up to 10MB to the object store happen inside the request
			WriteTimeout:   2 * time.Minute,
			MaxHeaderBytes: 1 << 20, // 1 MB
		},
		sessions: sessions,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		sweepCtx: sweepCtx,
		stop:     stop,
	}

	log.Info("Server created successfully",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("bucket", cfg.Storage.BucketName))

	return server, nil
}

// NewRouter registers every route of the upload API on a fresh gin engine.
func NewRouter(h *handler.Handler, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(handler.RequestLogger(log))
	router.MaxMultipartMemory = domain.MaxUploadSize

	router.GET("/health", h.HealthCheck)
	router.GET("/ready", h.ReadinessCheck)

	router.POST("/api/login", h.Login)

	api := router.Group("/api", h.RequireSession())
	{
		api.POST("/logout", h.Logout)
		api.GET("/state", h.GetState)
		api.POST("/image", h.SelectImage)
		api.DELETE("/image", h.Reset)
		api.POST("/rotate", h.Rotate)
		api.PUT("/annotation", h.SetAnnotation)
		api.POST("/submit", h.Submit)
		api.GET("/preview", h.Preview)
	}

	return router
}

func (s *Server) Run() error {
	go s.sessions.Run(s.sweepCtx, s.cfg.App.SweepInterval)

	s.log.Info("Server is running",
		zap.String("host", s.cfg.Server.Host),
		zap.String("port", s.cfg.Server.Port),
		zap.String("address", s.httpServer.Addr))

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down server")
	s.stop()

	err := s.httpServer.Shutdown(ctx)
	if cerr := s.notifier.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close notifier: %w", cerr))
	}
	return err
}

func newGate(cfg *config.AuthConfig, log *zap.Logger) (auth.Gate, error) {
	hash := cfg.PasswordHash
	if hash == "" {
		if cfg.Password == "" {
			return nil, errors.New("AUTH_PASSWORD_HASH or AUTH_PASSWORD must be set")
		}
		log.Warn("AUTH_PASSWORD is set in plain text, prefer AUTH_PASSWORD_HASH")

		var err error
		hash, err = auth.HashPassword(cfg.Password)
		if err != nil {
			return nil, err
		}
	}
	return auth.NewCredentialGate(cfg.Username, hash)
}

func newTokenIssuer(cfg *config.AuthConfig, ttl time.Duration, log *zap.Logger) (*auth.TokenIssuer, error) {
	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		log.Warn("AUTH_TOKEN_SECRET not set, sessions will not survive a restart")

		var err error
		secret, err = auth.RandomSecret()
		if err != nil {
			return nil, err
		}
	}
	return auth.NewTokenIssuer(secret, ttl)
}
