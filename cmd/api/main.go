package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/pollq/internal/app"
	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/job"
	"github.com/joshu-sajeev/pollq/internal/metrics"
	"github.com/joshu-sajeev/pollq/internal/storage/postgres"
	"github.com/joshu-sajeev/pollq/middleware"
	"github.com/sethvargo/go-envconfig"
)

type serverConfig struct {
	Addr        string `env:"API_ADDR,default=:8080"`
	AutoMigrate bool   `env:"API_AUTO_MIGRATE,default=false"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(logger); err != nil {
		logger.Error("api stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srvCfg serverConfig
	if err := envconfig.Process(ctx, &srvCfg); err != nil {
		return err
	}
	q, err := config.LoadQueueFromEnv(ctx)
	if err != nil {
		return err
	}
	smtp, err := config.LoadSMTPFromEnv(ctx)
	if err != nil {
		return err
	}

	st, err := app.Open(ctx, *q)
	if err != nil {
		return err
	}
	defer st.Close()

	if srvCfg.AutoMigrate {
		sqlDB, err := st.DB.DB()
		if err != nil {
			return err
		}
		if err := postgres.Migrate(ctx, sqlDB); err != nil {
			return err
		}
	}

	collector := metrics.NewCollector()
	svc := job.NewJobService(st.Jobs, st.Procs, app.Tasks(logger, *smtp), *q).WithObserver(collector)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              srvCfg.Addr,
		Handler:           newRouter(svc, collector),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin api listening", slog.String("addr", srvCfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(svc job.JobServiceInterface, collector *metrics.Collector) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.ErrorHandler())

	job.NewJobHandler(svc).Register(r.Group("/admin"))
	r.GET("/metrics", gin.WrapH(collector.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}
