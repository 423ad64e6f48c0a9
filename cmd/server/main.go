package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"manvsim.ai/internal/logging"
	"manvsim.ai/internal/observability"
	"manvsim.ai/internal/sim/exercise"
	"manvsim.ai/internal/sim/tuning"
	"manvsim.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":3200", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		configPath = flag.String("config", "", "path to server.yaml (optional)")
		disableDB  = flag.Bool("disable_db", false, "resolve exercise ids from exercise.json files instead of the index store")
		logLevel   = flag.String("log_level", "info", "debug|info|warn|error")
		logFormat  = flag.String("log_format", "json", "json|console")
	)
	flag.Parse()

	logger, err := logging.New(*logLevel, *logFormat, "manvsim-server")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	tune, err := tuning.Load(*configPath)
	if err != nil {
		logger.Fatal("load config", zap.String("path", *configPath), zap.Error(err))
	}

	ctx, cancel := signalContext()
	defer cancel()

	metrics, err := observability.New(nil)
	if err != nil {
		logger.Fatal("metrics", zap.Error(err))
	}

	store, err := openStore(ctx, tune.Store, *dataDir, *disableDB, logger)
	if err != nil {
		logger.Fatal("open index store", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
		_ = metrics.RegisterQueue("index", func() (int, int, uint64) {
			s := store.Stats()
			return s.QueueDepth, s.QueueCapacity, s.DropTotal
		})
	}

	mir, err := buildMirror(ctx, tune.Mirror, *dataDir, logger)
	if err != nil {
		logger.Fatal("init mirror", zap.Error(err))
	}
	if mir != nil {
		defer mir.Close()
		_ = metrics.RegisterQueue("mirror", func() (int, int, uint64) {
			s := mir.Stats()
			return s.QueueDepth, s.QueueCapacity, s.DroppedTotal
		})
	}

	manager := exercise.NewManager(ctx, exercise.Options{
		DataDir: *dataDir,
		Tuning:  tune,
		Store:   store,
		Mirror:  mir,
		Metrics: metrics,
		Logger:  logger,
	})
	defer manager.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/v1/ws", ws.NewServer(manager, tune.ClientQueueSize, logger.Named("ws")).Handler())

	a := &api{exercises: manager, log: logger.Named("api")}
	a.register(mux)

	if envBool("MANV_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		a.registerAdmin(mux)
	} else {
		logger.Info("admin endpoints disabled (MANV_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("MANV_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", zap.String("addr", *addr), zap.String("data_dir", *dataDir))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("ListenAndServe", zap.Error(err))
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
