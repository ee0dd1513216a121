package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/wscast/internal/certs"
	"github.com/zsiec/wscast/internal/demux"
	"github.com/zsiec/wscast/internal/media"
	"github.com/zsiec/wscast/internal/mp4"
	"github.com/zsiec/wscast/internal/server"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var (
		port      int
		codecName string
		file      string
		certPath  string
		keyPath   string
	)
	flag.IntVarP(&port, "port", "p", 6061, "WebSocket listen port")
	flag.StringVarP(&codecName, "codec", "c", envOr("CODEC_TYPE", "h264"), "codec of a raw input file (h264 or h265)")
	flag.StringVarP(&file, "file", "f", "", "input file: raw elementary stream or .mp4")
	flag.StringVar(&certPath, "cert", "", "TLS certificate PEM file (default: self-signed)")
	flag.StringVar(&keyPath, "key", "", "TLS private key PEM file")
	flag.Parse()

	if file == "" {
		slog.Error("no input file given, use -f")
		flag.Usage()
		os.Exit(1)
	}
	if (certPath == "") != (keyPath == "") {
		slog.Error("--cert and --key must be given together")
		os.Exit(1)
	}

	codec, err := demux.ParseCodec(codecName)
	if err != nil {
		slog.Error("unsupported codec", "codec", codecName)
		os.Exit(1)
	}

	var cert *certs.CertInfo
	if certPath != "" {
		cert, err = certs.Load(certPath, keyPath)
		if err != nil {
			slog.Error("failed to load certificate", "error", err)
			os.Exit(1)
		}
		slog.Info("certificate loaded",
			"cert", certPath,
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
	} else {
		slog.Info("generating self-signed certificate")
		cert, err = certs.Generate()
		if err != nil {
			slog.Error("failed to generate cert", "error", err)
			os.Exit(1)
		}
		slog.Info("certificate generated",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
	}

	var stream *media.Stream
	mode := "raw"
	if strings.EqualFold(filepath.Ext(file), ".mp4") {
		mode = "container"
		stream, err = mp4.Load(file)
	} else {
		stream, err = media.LoadRaw(file, codec)
	}
	if err != nil {
		slog.Error("failed to load input", "file", file, "error", err)
		os.Exit(1)
	}

	slog.Info("wscast starting",
		"version", version,
		"file", file,
		"mode", mode,
		"codec", stream.Codec.String(),
		"fps", stream.FPS,
		"port", port,
	)

	srv, err := server.New(server.Config{
		Port:   port,
		Stream: stream,
		Cert:   cert,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
