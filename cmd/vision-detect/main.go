package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	visiondetect "github.com/menta2k/vision-detect"
	"github.com/menta2k/vision-detect/internal/config"
	"github.com/menta2k/vision-detect/internal/logger"
	"github.com/menta2k/vision-detect/internal/utils"
)

func main() {
	var in, query, backend, outDir, configPath, addr string
	var serve, eager, version bool

	flag.StringVar(&in, "in", "", "input image path, URL, or directory of images")
	flag.StringVar(&query, "q", "", "detection query, e.g. \"find every bicycle\"")
	flag.StringVar(&backend, "backend", "", "backend to use: api or local (default from config)")
	flag.StringVar(&outDir, "out", "out", "output directory for annotated images")
	flag.StringVar(&configPath, "config", "", "config file (yaml or json)")
	flag.BoolVar(&serve, "serve", false, "start the HTTP server instead of a one-shot detection")
	flag.StringVar(&addr, "addr", "", "listen address for -serve (default host:port from config)")
	flag.BoolVar(&eager, "preload", false, "load the local model at startup")
	flag.BoolVar(&version, "version", false, "print version and exit")
	flag.Parse()

	if version {
		fmt.Println(visiondetect.GetVersion())
		return
	}

	if configPath == "" && utils.FileExists(config.GetConfigPath()) {
		configPath = config.GetConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	vd, err := visiondetect.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	if eager {
		if err := vd.LoadLocal(ctx); err != nil {
			logger.WithError(err).Warn("local model preload failed")
		}
	}

	if serve {
		if addr == "" {
			addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
		}
		if err := runServer(ctx, addr, vd.Handler()); err != nil {
			log.Fatal(err)
		}
		return
	}

	if in == "" || query == "" {
		log.Fatalf("usage: %s -in image.jpg|URL|dir -q \"query\" [-backend api|local] [-out outdir] [-config file] | -serve", filepath.Base(os.Args[0]))
	}

	inputs := []string{in}
	if utils.DirExists(in) {
		if inputs, err = utils.ListImageFiles(in); err != nil {
			log.Fatal(err)
		}
		if len(inputs) == 0 {
			log.Fatalf("no images found in %s", in)
		}
	}

	failed := 0
	for _, input := range inputs {
		answer, saved, err := vd.ProcessImageFile(ctx, input, query, outDir, backend)
		if err != nil {
			logger.WithError(err).WithField("input", input).Error("detection failed")
			failed++
			continue
		}
		fmt.Printf("%s: %s\n", input, answer)
		if saved != "" {
			fmt.Printf("  annotated image: %s\n", saved)
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

// runServer serves handler until ctx is cancelled, then shuts down gracefully
func runServer(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		logger.Info("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
