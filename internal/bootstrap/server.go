package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Domenick1991/spiritbooking/api"
	"github.com/Domenick1991/spiritbooking/config"
	"github.com/Domenick1991/spiritbooking/internal/auth"
	"github.com/Domenick1991/spiritbooking/internal/service/booking"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 5 * time.Second

// Run starts the HTTP API and blocks until ctx is canceled or the server fails.
func Run(
	ctx context.Context,
	cfg *config.Config,
	bookingSvc booking.BookingUseCase,
	verifier auth.Verifier,
	checks map[string]api.Checker,
	log *logrus.Entry,
) error {
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           NewRouter(cfg.HTTP, bookingSvc, verifier, checks, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("address", cfg.HTTP.Address).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		log.Info("http server stopped")
		return nil
	}
}

// NewRouter builds the gin engine: health probes stay public, everything under
// /api/v1 requires a bearer token.
func NewRouter(
	cfg config.HTTPConfig,
	bookingSvc booking.BookingUseCase,
	verifier auth.Verifier,
	checks map[string]api.Checker,
	log *logrus.Entry,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	api.NewHealthHandler(checks).Register(router.Group(""))

	v1 := router.Group("/api/v1", auth.Middleware(verifier, log))
	api.NewBookingHandler(bookingSvc, log).Register(v1)
	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	c.AllowHeaders = append(c.AllowHeaders, "Authorization")
	c.MaxAge = 12 * time.Hour
	return c
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("request handled")
	}
}
