package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"ovotrack/server/internal/api"
	"ovotrack/server/internal/app"
	"ovotrack/server/internal/config"
	"ovotrack/server/internal/events"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config.load_failed")
	}
	log := config.NewLogger(cfg.LogLevel, cfg.Environment)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("config.invalid")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := api.NewHub(log)
	go hub.Run(ctx)

	// With kafka every instance publishes to the topic and feeds its own hub from it,
	// so dashboards see changes made through any instance.
	var publisher events.Publisher = hub
	auth := events.KafkaAuth{Username: cfg.KafkaUsername, Password: cfg.KafkaPassword, CACert: cfg.KafkaCACert}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, auth, log)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher

		host, _ := os.Hostname()
		feed := events.NewStockFeedConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, "ovotrack-ws-"+host, auth, hub, log)
		defer feed.Close()
		go feed.Run(ctx)
	} else {
		log.Info("kafka.disabled: events go to websocket clients only")
	}

	application, err := app.New(cfg, log, publisher)
	if err != nil {
		log.WithError(err).Fatal("app.init_failed")
	}
	defer application.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.RouterConfig{
		Log:            log,
		JWTSecret:      []byte(cfg.JWTSecret),
		Catalog:        application.Catalog,
		Vouchers:       application.Vouchers,
		Lots:           application.Lots,
		Ledger:         application.Ledger,
		Adjustments:    application.Adjustments,
		Reconciliation: application.Reconciliation,
		Hub:            hub,
	})

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(api.AuthUnaryInterceptor([]byte(cfg.JWTSecret))))
	api.RegisterStockQueryServer(grpcServer, api.NewStockGRPCServer(application.Ledger, log))
	go func() {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			log.WithError(err).Error("grpc.listen_failed")
			stop()
			return
		}
		log.WithField("port", cfg.GRPCPort).Info("grpc.started")
		if err := grpcServer.Serve(lis); err != nil {
			log.WithError(err).Error("grpc.serve_failed")
		}
	}()

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.ServerPort, "store": cfg.StoreDriver}).Info("http.started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http.serve_failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown.start")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http.shutdown_failed")
	}
	grpcServer.GracefulStop()
	log.Info("shutdown.done")
}
