package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coreman2200/tcp-led-stream/internal/discovery"
	"github.com/coreman2200/tcp-led-stream/internal/pattern"
	"github.com/coreman2200/tcp-led-stream/internal/pixel"
)

func main() {
	var (
		addr       = flag.String("addr", "localhost:7777", "bridge address")
		discover   = flag.Bool("discover", false, "find the bridge over mDNS instead of -addr")
		format     = flag.String("format", "RGB", "pixel format the bridge expects")
		pixels     = flag.Int("pixels", 60, "total pixels across every light on the bridge")
		fps        = flag.Int("fps", 30, "frames per second")
		kind       = flag.String("pattern", string(pattern.Rainbow), "index_sweep | rgb_channels | rainbow | white")
		brightness = flag.Float64("brightness", 0.5, "0..1")
		frames     = flag.Int("frames", 0, "stop after this many frames, 0 runs until interrupted")
		loop       = flag.Bool("loop", true, "restart finite patterns when they end")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	f, err := pixel.ParseFormat(*format)
	if err != nil {
		log.Fatal().Err(err).Msg("bad -format")
	}
	k, err := pattern.ParseKind(*kind)
	if err != nil {
		log.Fatal().Err(err).Msg("bad -pattern")
	}

	target := *addr
	n := *pixels
	if *discover {
		found, err := discovery.Browse(3 * time.Second)
		if err != nil || len(found) == 0 {
			log.Fatal().Err(err).Msg("no bridge found over mDNS")
		}
		s := found[0]
		target = s.Addr
		if df, err := pixel.ParseFormat(s.Format); err == nil {
			f = df
		}
		if s.FrameSize > 0 {
			n = s.FrameSize / f.BytesPerPixel()
		}
		log.Info().Str("name", s.Name).Str("addr", s.Addr).Str("format", f.String()).Int("pixels", n).Msg("found bridge")
	}
	if n <= 0 || *fps <= 0 {
		log.Fatal().Int("pixels", n).Int("fps", *fps).Msg("pixels and fps must be positive")
	}

	conn, err := net.DialTimeout("tcp", target, 5*time.Second)
	if err != nil {
		log.Fatal().Err(err).Str("addr", target).Msg("dial failed")
	}
	defer conn.Close()
	log.Info().Str("addr", target).Str("pattern", string(k)).Int("frame_bytes", n*f.BytesPerPixel()).Msg("streaming")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := pattern.New(k, *brightness)
	colors := make([]pixel.Color, n)
	ticker := time.NewTicker(time.Second / time.Duration(*fps))
	defer ticker.Stop()

	sent := 0
	for *frames == 0 || sent < *frames {
		select {
		case <-ctx.Done():
			log.Info().Int("frames", sent).Msg("interrupted")
			return
		case <-ticker.C:
		}
		if !runner.Step(colors) {
			if !*loop {
				break
			}
			runner.Reset()
			runner.Step(colors)
		}
		if _, err := conn.Write(pixel.Encode(f, colors)); err != nil {
			log.Fatal().Err(err).Int("frames", sent).Msg("write failed")
		}
		sent++
	}
	log.Info().Int("frames", sent).Msg("done")
}
