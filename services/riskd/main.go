package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"lendcore/core/events"
	"lendcore/integrations/exports"
	"lendcore/integrations/webhooks"
	"lendcore/native/comptroller"
	nativecommon "lendcore/native/common"
	"lendcore/observability/logging"
	telemetry "lendcore/observability/otel"
	"lendcore/services/riskd/config"
	"lendcore/services/riskd/node"
	"lendcore/services/riskd/server"
	"lendcore/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/riskd/config.yaml", "path to riskd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("NHB_ENV"))
	logger := logging.Setup("riskd", env)
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("riskd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	self, err := cfg.ComptrollerAddress()
	if err != nil {
		log.Fatalf("comptroller address: %v", err)
	}
	logger.Info("riskd configured",
		slog.String("comptroller", self.String()),
		slog.String("node", cfg.Node.URL),
		logging.MaskField("node_bearer_token", cfg.Node.BearerToken),
		logging.MaskField("auth_hmac_secret", cfg.Auth.HMACSecret))

	var genesis *comptroller.Genesis
	reward := comptroller.RewardConfig{}
	if cfg.GenesisPath != "" {
		if genesis, err = comptroller.LoadGenesis(cfg.GenesisPath); err != nil {
			log.Fatalf("load genesis: %v", err)
		}
		if reward, err = genesis.RewardConfig(); err != nil {
			log.Fatalf("genesis reward config: %v", err)
		}
		logger.Info("reward token configured",
			slog.String("symbol", reward.Symbol),
			slog.String("reward_token", reward.Token.String()))
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data/riskd"
	}
	db, err := storage.NewLevelDB(filepath.Join(dataDir, "comptroller"))
	if err != nil {
		log.Fatalf("open state: %v", err)
	}
	defer db.Close()

	client, err := node.NewClient(node.Config{
		BaseURL:            cfg.Node.URL,
		BearerToken:        cfg.Node.BearerToken,
		SharedSecretHeader: cfg.Node.SharedSecretHeader,
		SharedSecretValue:  cfg.Node.SharedSecretValue,
		TLSClientCAFile:    cfg.Node.TLSClientCA,
		AllowInsecure:      cfg.Node.AllowInsecure,
		Timeout:            cfg.Node.Timeout,
	})
	if err != nil {
		log.Fatalf("node client: %v", err)
	}

	fanout := events.NewFanout()
	pauses := nativecommon.PauseSet{}
	for _, name := range cfg.Pauses {
		pauses[name] = true
	}
	engine := comptroller.New(db, self, node.NewResolver(client, self),
		comptroller.WithEmitter(fanout),
		comptroller.WithLogger(logger),
		comptroller.WithPauses(pauses),
		comptroller.WithRewardConfig(reward))

	hub := server.NewHub(engine.BlockHeight)
	fanout.Add(hub)

	if cfg.Effects.DSN != "" {
		store, err := exports.Open(cfg.Effects.DSN)
		if err != nil {
			log.Fatalf("open effect store: %v", err)
		}
		defer store.Close()
		sink, err := exports.NewSink(store, engine.BlockHeight,
			exports.WithBuffer(cfg.Effects.Buffer),
			exports.WithSinkLogger(logger))
		if err != nil {
			log.Fatalf("effect sink: %v", err)
		}
		defer sink.Close()
		fanout.Add(sink)
	}
	if cfg.Webhook.URL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret),
			webhooks.WithTopics(cfg.Webhook.Topics...),
			webhooks.WithHeight(engine.BlockHeight),
			webhooks.WithLogger(logger))
		if err != nil {
			log.Fatalf("webhook dispatcher: %v", err)
		}
		defer dispatcher.Close()
		fanout.Add(dispatcher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	follower := node.NewFollower(client, engine, cfg.BlockPollInterval, logger)
	if _, err := follower.Poll(ctx); err != nil {
		logger.Warn("initial block height unavailable", slog.Any("error", err))
	}
	if genesis != nil {
		applied, err := engine.ApplyGenesis(genesis)
		if err != nil {
			log.Fatalf("apply genesis: %v", err)
		}
		if !applied {
			logger.Info("state already initialised; genesis skipped")
		}
	}
	go follower.Run(ctx)

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext riskd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsConfig, err := loadServerTLS(cfg.TLS)
	if err != nil {
		log.Fatalf("configure tls: %v", err)
	}

	api, err := server.New(engine, hub, server.Config{
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
	}, logger)
	if err != nil {
		log.Fatalf("build server: %v", err)
	}
	httpServer := &http.Server{
		Handler:           api.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("riskd listening", slog.String("address", listener.Addr().String()))
		if tlsConfig != nil {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsCfg.ClientAuth = tls.NoClientCert
	}
	return tlsCfg, nil
}
