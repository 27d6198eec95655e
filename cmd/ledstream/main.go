package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/tcp-led-stream/internal/app"
	"github.com/coreman2200/tcp-led-stream/internal/config"
	"github.com/coreman2200/tcp-led-stream/internal/discovery"
	"github.com/coreman2200/tcp-led-stream/internal/stream"
)

func main() {
	// ---- Flags (config.yaml overrides where set) ----
	var (
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		port       = flag.Int("port", 7777, "TCP port for the pixel stream")
		format     = flag.String("format", "RGB", "pixel format: RGB | RGBW | GRB | GRBW | BGR")
		timeoutMs  = flag.Int("timeout-ms", 5000, "idle timeout in ms, 0 disables")
		mode       = flag.String("mode", "heuristic", "completion mode: heuristic | estimate | busy")
		pixels     = flag.Int("pixels", 60, "pixel count of the default light when config.yaml has none")
		driver     = flag.String("driver", "sim", "driver of the default light: spi | screen | sim")
		addr       = flag.String("addr", ":8080", "HTTP listen address, empty disables")
		logLevel   = flag.String("log-level", "info", "debug | info | warn | error")
		logJSON    = flag.Bool("log-json", false, "log JSON lines instead of console output")
		advertise  = flag.Bool("mdns", false, "advertise the stream over mDNS")
	)
	flag.Parse()

	// ---- Logging ----
	zerolog.TimeFieldFormat = time.RFC3339
	if !*logJSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	}

	// ---- Effective config: flags first, then config.yaml ----
	cfg := config.Default()
	cfg.Port = *port
	cfg.PixelFormat = *format
	cfg.TimeoutMs = *timeoutMs
	cfg.CompletionMode = *mode
	cfg.Lights[0].Pixels = *pixels
	cfg.Lights[0].Driver = *driver
	cfg.HTTP.Addr = *addr
	cfg.LogLevel = *logLevel
	cfg.MDNS.Enabled = *advertise

	cfg, err := loadConfig(*configPath, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("config load failed")
	}

	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	log.Info().Msg("effective configuration:\n" + cfg.Dump())

	// ---- Build bridge ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt, err := app.Build(cfg, reg, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	ln, err := stream.Listen(cfg.ListenAddr())
	if err != nil {
		log.Fatal().Err(err).Msg("stream listen failed")
	}

	// ---- HTTP routes ----
	var srv *http.Server
	if rt.Hub != nil {
		mux := http.NewServeMux()
		mux.HandleFunc("/ws", rt.Hub.HandleFramesWS)
		mux.HandleFunc("/diag", rt.Hub.HandleDiagWS)
		mux.HandleFunc("/health", rt.Hub.HandleHealth)
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

		srv = &http.Server{
			Addr:         cfg.HTTP.Addr,
			Handler:      withCORS(mux),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server crashed")
			}
		}()
	}

	// ---- mDNS ----
	if cfg.MDNS.Enabled {
		adv, err := discovery.Advertise(discovery.Config{
			Name:      cfg.MDNS.Name,
			Port:      cfg.Port,
			Format:    rt.Layout.Format().String(),
			FrameSize: rt.Layout.FrameSize(),
		}, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("mdns advertisement failed")
		} else {
			defer adv.Stop()
		}
	}

	// ---- Run until signalled ----
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Serve(ctx, ln); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("stream server stopped")
	}
	log.Info().Msg("shutting down")

	if srv != nil {
		_ = srv.Close()
	}
}

func withCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// loadConfig applies the file at path on top of base, which already carries
// the flag values. Only a missing file falls back to base.
func loadConfig(path string, base *config.Config) (*config.Config, error) {
	if err := config.LoadInto(path, base); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("path", path).Msg("config file not found; proceeding with flags")
			return base, nil
		}
		return nil, err
	}
	return base, nil
}
