// Command authproxy fronts the gradeloop IAM service for browser clients.
// It enforces the CSRF double-submit check and the refresh-token rotation
// ledger at the edge, adds the security headers the admin UI expects, and
// reverse-proxies everything else unchanged.
package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gradeloop/authkit/config"
	"github.com/gradeloop/authkit/internal/logging"
	"github.com/gradeloop/authkit/replay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty)
	log.Info().Str("iam", cfg.IAMBaseURL).Str("listen", cfg.ListenAddr).Msg("starting authproxy")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	ledger, err := buildLedger(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.ReplayBackend).Msg("failed to initialize replay ledger")
	}
	defer ledger.Close()

	upstream, err := url.Parse(cfg.IAMBaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid IAM base URL")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))
	e.Use(securityHeaders())
	e.Use(csrfCheck(log))
	e.Use(replayCheck(ledger, log))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	registerDebug(e, cfg, ledger)

	proxy := newUpstreamProxy(upstream, log)
	e.Any("/*", echo.WrapHandler(proxy))

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func buildLedger(ctx context.Context, cfg *config.Config, log zerolog.Logger) (replay.Ledger, error) {
	switch cfg.ReplayBackend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return replay.NewRedisLedger(client, "gradeloop"), nil
	case "mongo":
		return replay.NewMongoLedger(ctx, cfg.MongoURI, cfg.MongoDBName, log)
	case "memory", "":
		return replay.NewMemoryLedger(), nil
	default:
		return nil, errors.New("unknown replay backend: " + cfg.ReplayBackend)
	}
}

// newUpstreamProxy builds the reverse proxy. The Host header is rewritten to
// the upstream's, hop-by-hop handling is the stdlib's; cookies pass through
// untouched in both directions.
func newUpstreamProxy(upstream *url.URL, log zerolog.Logger) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(upstream)

	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = upstream.Host
		req.Header.Del("Transfer-Encoding")
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("upstream unreachable")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
	}
	return proxy
}
