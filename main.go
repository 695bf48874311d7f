package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/rdevng/salesforce-face-recognition-api/api"
	"github.com/rdevng/salesforce-face-recognition-api/camera"
	"github.com/rdevng/salesforce-face-recognition-api/gallery"
	"github.com/rdevng/salesforce-face-recognition-api/recognize"
)

func main() {
	configPath := flag.String("config", os.Getenv("FACEAPI_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := SetupLogger(cfg)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	rec, err := recognize.NewRecognizerWrapper(cfg.Recognizer.ModelsDir, float32(cfg.Recognizer.Tolerance))
	if err != nil {
		sugar.Fatalw("failed to initialize recognizer", "error", err)
	}
	defer rec.Close()

	var store gallery.Store
	switch cfg.Gallery.Store {
	case "mongo":
		store, err = gallery.NewMongoStore(cfg.Mongo.URL, cfg.Mongo.Database)
		if err != nil {
			sugar.Fatalw("failed to connect to mongodb", "error", err)
		}
	case "file":
		store = gallery.NewFileStore(cfg.Gallery.CacheFile)
	default:
		sugar.Fatalw("unknown gallery store", "store", cfg.Gallery.Store)
	}
	defer store.Close()

	gal := gallery.New(cfg.Gallery.Dir, rec, store, sugar)
	faces, err := gal.Reload()
	if err != nil {
		sugar.Fatalw("failed to load known faces", "error", err)
	}
	rec.SetSamples(faces)
	sugar.Infow("known faces loaded", "samples", len(faces), "labels", len(rec.Labels()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cam api.FrameSource
	if cfg.Camera.Device != "" {
		c := camera.New(camera.Config{
			Device: cfg.Camera.Device,
			Width:  cfg.Camera.Width,
			Height: cfg.Camera.Height,
		}, sugar)
		if err := c.Start(ctx); err != nil {
			sugar.Fatalw("failed to start camera", "device", cfg.Camera.Device, "error", err)
		}
		cam = c
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    cfg.Server.Address(),
		Handler: api.NewServer(rec, gal, cam, sugar).Router(),
	}

	go func() {
		sugar.Infow("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("http server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("shutdown failed", "error", err)
	}
}
