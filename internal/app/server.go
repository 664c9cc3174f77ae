package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/api"
	"github.com/Minimalist03/fediversaopuzzle/internal/config"
	"github.com/Minimalist03/fediversaopuzzle/internal/services"
)

const shutdownTimeout = 30 * time.Second

func NewRouter(
	cfg config.Config,
	webhooks *services.WebhookService,
	access *services.AccessService,
	audit *services.AuditService,
	monitoring *services.MonitoringService,
	passwordReset *services.PasswordResetService,
	logger *zap.Logger,
) *gin.Engine {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.API.Key == "" {
		logger.Warn("api.key is not set; access and audit endpoints will refuse every request")
	}
	return api.NewRouter(api.RouterDeps{
		Webhooks:      webhooks,
		Access:        access,
		Audit:         audit,
		Monitoring:    monitoring,
		PasswordReset: passwordReset,
		APIKey:        cfg.API.Key,
		RateLimit:     cfg.Webhook.RateLimit,
		Burst:         cfg.Webhook.Burst,
		Logger:        logger,
	})
}

// NewHTTPServer binds the listener on start and drains in-flight requests
// on stop.
func NewHTTPServer(lc fx.Lifecycle, cfg config.Config, router *gin.Engine, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}

			go func() {
				var err error
				if cfg.Server.HTTPS {
					logger.Info("Starting HTTPS server",
						zap.String("addr", srv.Addr),
						zap.String("cert_file", cfg.Server.CertFile),
						zap.String("key_file", cfg.Server.KeyFile))
					err = srv.ServeTLS(ln, cfg.Server.CertFile, cfg.Server.KeyFile)
				} else {
					logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
					err = srv.Serve(ln)
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down server...")
			if cfg.Server.ShutdownTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
				defer cancel()
			}
			return srv.Shutdown(ctx)
		},
	})
	return srv
}

// New assembles the service. The logger is built by the caller so startup
// failures can be reported before the graph exists.
func New(logger *zap.Logger, opts ...fx.Option) *fx.App {
	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
		fx.Supply(logger),
		Module,
		fx.Options(opts...),
		fx.Invoke(func(*http.Server) {}),
		fx.StopTimeout(shutdownTimeout),
	)
}
