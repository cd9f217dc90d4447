package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/loiht2/payload-forge/config"
	"github.com/loiht2/payload-forge/controller"
	"github.com/loiht2/payload-forge/handlers"
	"github.com/loiht2/payload-forge/k8s"
	"github.com/loiht2/payload-forge/middleware"
	"github.com/loiht2/payload-forge/monitor"
	"github.com/loiht2/payload-forge/repository"
)

func main() {
	flags := pflag.NewFlagSet("payload-forge", pflag.ExitOnError)
	configFile := flags.String("config", "", "Path to a YAML config file (optional)")
	flags.Int("port", 8080, "Server port")
	flags.String("kubeconfig", "", "Path to kubeconfig file (optional, uses in-cluster config if not provided)")
	_ = flags.Parse(os.Args[1:])

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configFile, flags)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		config.LogValidationErrors(err)
		log.Fatal("Invalid configuration")
	}
	if err := config.ConfigureLogging(cfg.Logging); err != nil {
		log.WithError(err).Fatal("Failed to configure logging")
	}

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("Server stopped with an error")
	}
	log.Info("Server stopped gracefully")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting payload-forge")

	var secrets config.SecretReader
	if cfg.NeedsKubernetes() {
		client, err := k8s.NewClientFromKubeconfig(cfg.Kubeconfig)
		if err != nil {
			return errors.Wrap(err, "failed to initialize Kubernetes client")
		}
		secrets = client
	}

	store, closeStore, err := config.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.WithError(err).Warn("Failed to close template store")
		}
	}()

	repo := repository.NewRepository(store)
	if cfg.Server.SeedDefaultTemplate {
		seeded, err := repo.SeedDefaultIfEmpty(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to seed default template")
		}
		if seeded != nil {
			log.WithField("template_id", seeded.ID).Info("Seeded default template")
		}
	}

	searcher, err := config.ArtifactSearcher(cfg.Artifact, secrets)
	if err != nil {
		return err
	}
	options := handlers.Options{
		Searcher:       searcher,
		RequestTimeout: cfg.Server.RequestTimeout,
	}
	sink, err := config.ExportSink(ctx, cfg.Export, secrets)
	if err != nil {
		return err
	}
	if sink != nil {
		if err := sink.EnsureBucket(ctx); err != nil {
			return err
		}
		options.Sink = sink
	}

	sessions := controller.NewSessions(repo, controller.Options{
		AutoSaveDelay: cfg.Server.AutoSaveDelay,
		Searcher:      searcher,
	})
	defer sessions.CloseAll()

	storeMonitor := monitor.NewMonitor(repo, sessions, monitor.Options{
		Interval:           cfg.Server.MonitorInterval,
		SessionIdleTimeout: cfg.Server.SessionIdleTimeout,
	})
	storeMonitor.Start()
	defer storeMonitor.Stop()
	options.StoreHealth = storeMonitor

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(
		middleware.CORSMiddleware(cfg.Server.AllowedOrigins, cfg.Server.UserHeader),
		middleware.RequestID(),
		middleware.UserMiddleware(cfg.Server.UserHeader),
		middleware.Logger(),
		middleware.Metrics(),
		gin.Recovery(),
	)
	handlers.NewHandler(repo, sessions, options).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "failed to serve HTTP")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}
