package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"kptv-proxy/work/compose"
	"kptv-proxy/work/config"
	"kptv-proxy/work/hls"
	"kptv-proxy/work/httpapi"
	"kptv-proxy/work/hub"
	"kptv-proxy/work/identity"
	"kptv-proxy/work/ingest"
	"kptv-proxy/work/logger"
	"kptv-proxy/work/output"
	"kptv-proxy/work/pipeline"
	"kptv-proxy/work/registry"
	"kptv-proxy/work/rescache"
	"kptv-proxy/work/session"
)

var Version = "v0.1.0"

// main is the composition root: it wires every component (C1-C11) into one
// httpapi.App and starts serving. Mirrors the teacher's main.go shape
// (load config, build dependencies, wire routes, start background loops,
// serve) but delegates the config->running-state transformation to
// work/compose rather than inlining it. The wire-protocol routes come from
// work/httpapi.NewRouter; the admin routes are added to that router by
// setupAdminRoutes (admin_handlers.go).
func main() {
	log := logger.New("INFO")

	configDir := os.Getenv("KPTV_CONFIG_DIR")
	if configDir == "" {
		configDir = "./config"
	}

	app := httpapi.New(log)

	var builder *compose.Builder
	watcher, err := config.NewWatcher(configDir, log, func(cfg *config.Config) {
		if builder == nil {
			return
		}
		if err := builder.BuildAll(context.Background()); err != nil {
			log.Error("{main - onSwap} rebuild after config reload failed: %v", err)
		}
	})
	if err != nil {
		log.Error("{main} load config from %q: %v", configDir, err)
		os.Exit(1)
	}
	app.Watcher = watcher
	defer watcher.Close()

	cfg := watcher.Current()

	secret, err := identity.ParseSecret(cfg.Global.RewriteSecret)
	if err != nil {
		log.Error("{main} %v", err)
		os.Exit(1)
	}
	app.Secret = secret

	registryPath := cfg.Global.RegistryPath
	if registryPath == "" {
		registryPath = "./data/registry.db"
	}
	reg, err := registry.Open(registryPath, log)
	if err != nil {
		log.Error("{main} open registry %q: %v", registryPath, err)
		os.Exit(1)
	}
	app.Registry = reg
	defer reg.Close()

	pl, err := pipeline.New(cfg.Global.WorkerThreads, log)
	if err != nil {
		log.Error("{main} create pipeline: %v", err)
		os.Exit(1)
	}
	app.Pipeline = pl
	defer pl.Release()

	app.Hubs = hub.NewManager(log)
	app.Kicks = session.NewKickRegistry(time.Duration(cfg.Global.KickSecs) * time.Second)
	app.HLS = hls.NewResolver(6 * time.Hour)

	cacheDir := cfg.Global.CacheDir
	if cacheDir == "" {
		cacheDir = "./data/rescache"
	}
	resCache, err := rescache.New(rescache.Options{
		Dir:                     cacheDir,
		SizeLimitBytes:          512 * 1024 * 1024,
		ResourceRewriteDisabled: !cfg.Global.CacheEnabled,
		HotEntries:              256,
		Logger:                  log,
	})
	if err != nil {
		log.Error("{main} create resource cache: %v", err)
		os.Exit(1)
	}
	app.ResCache = resCache

	app.Fetcher = ingest.NewFetcher(log)

	builder = compose.NewBuilder(app)
	if err := builder.BuildAll(context.Background()); err != nil {
		log.Error("{main} initial build: %v", err)
	}

	app.DeviceID = resolveDeviceID(cfg.Global.HDHomeRun.DeviceID)
	app.DeviceUDN = output.DeviceUDN(app.DeviceID)

	startRefreshLoop(app, builder, log)
	startHDHomeRunDiscovery(app, log)

	router := httpapi.NewRouter(app)
	setupAdminRoutes(router, app)

	addr := listenAddr(cfg.Global.BaseURL)
	log.Info("Starting kptv-proxy %s", Version)
	log.Info("  - Base URL: %s", cfg.Global.BaseURL)
	log.Info("  - Listen addr: %s", addr)
	log.Info("  - Worker threads: %d", cfg.Global.WorkerThreads)
	log.Info("  - Sources: %d", len(cfg.Sources))
	log.Info("  - HDHomeRun device id: %s", app.DeviceID)

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("{main} server failed: %v", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("{main} shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// startRefreshLoop runs the periodic provider re-fetch (spec §4.5): a
// robfig/cron schedule when global.import_refresh_cron is set, else a plain
// ticker at global.import_refresh_interval.
func startRefreshLoop(app *httpapi.App, builder *compose.Builder, log *logger.Logger) {
	rebuild := func() {
		if err := builder.BuildAll(context.Background()); err != nil {
			log.Error("{main - refresh} rebuild failed: %v", err)
		}
	}

	cfg := app.Config().Global
	if cfg.ImportRefreshCron != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.ImportRefreshCron, rebuild); err != nil {
			log.Error("{main - refresh} bad import_refresh_cron %q: %v", cfg.ImportRefreshCron, err)
			return
		}
		c.Start()
		return
	}

	interval := cfg.ImportRefreshInterval
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			rebuild()
		}
	}()
}

// startHDHomeRunDiscovery starts the SSDP and proprietary UDP discovery
// listeners when global.hdhomerun.enabled is set (spec §4.11/§6).
func startHDHomeRunDiscovery(app *httpapi.App, log *logger.Logger) {
	cfg := app.Config().Global
	if !cfg.HDHomeRun.Enabled {
		return
	}

	if conn, err := output.ListenSSDP(); err != nil {
		log.Error("{main - hdhomerun} listen ssdp: %v", err)
	} else {
		go output.NewSSDPResponder(app.DeviceID, app.DeviceUDN, cfg.BaseURL, log).Serve(conn)
	}

	if conn, err := output.ListenHDHRDiscovery(); err != nil {
		log.Error("{main - hdhomerun} listen hdhr discovery: %v", err)
	} else {
		go output.NewHDHRDiscoveryResponder(app.DeviceID, log).Serve(conn)
	}
}

// resolveDeviceID applies spec §4.11's device_id policy: empty generates a
// fresh id, invalid (bad checksum) is corrected, otherwise the configured
// id is used as-is.
func resolveDeviceID(configured string) string {
	if configured == "" {
		return output.GenerateDeviceID()
	}
	if output.ValidDeviceID(configured) {
		return configured
	}
	return output.DeviceIDFromBase(configured)
}

// listenAddr derives the proxy's bind address from global.base_url: no
// separate listen-port field exists in config, so the proxy always listens
// on the port its own externally visible base URL names.
func listenAddr(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Port() == "" {
		return ":8080"
	}
	return fmt.Sprintf(":%s", u.Port())
}
