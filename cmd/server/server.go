package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nemezkarl-source/DD5KA/api"
	"github.com/nemezkarl-source/DD5KA/config"
	"github.com/nemezkarl-source/DD5KA/metrics"
	"github.com/nemezkarl-source/DD5KA/services"
)

func Start(cfg *config.AppConfig) {
	m := metrics.New()

	// Init storage
	storage, err := services.NewStorage(cfg.Gallery.DBPath)
	if err != nil {
		log.Fatalf("opening storage: %v", err)
	}
	defer storage.Close()
	log.Printf("SQLite storage at %s", cfg.Gallery.DBPath)

	// Init services
	camera := services.NewCameraService(cfg.Camera, m)
	events := services.NewEventLog(cfg.Overlay.DetectionsFile, cfg.Overlay.TailBytes, m)
	overlay := services.NewOverlayStream(cfg.Overlay, camera, events, m)
	detectorCtl := services.NewDetectorControl(cfg.Detector.Unit)
	led := services.NewLEDService(cfg.LED)
	netmgr := services.NewNetworkManager()
	settingsSvc := services.NewSettingsService(storage, cfg)

	gallerySvc, err := services.NewGalleryService(cfg.Gallery, storage)
	if err != nil {
		log.Fatalf("initializing gallery: %v", err)
	}
	if _, err := gallerySvc.Rescan(); err != nil {
		log.Printf("gallery: initial scan failed: %v", err)
	}

	// Init handlers
	detectorHandler := api.NewDetectorHandler(detectorCtl, m)
	ledHandler := api.NewLEDHandler(led, m)
	systemHandler := api.NewSystemHandler(camera, netmgr)
	logsHandler := api.NewLogsHandler(events)
	galleryHandler := api.NewGalleryHandler(gallerySvc)
	settingsHandler := api.NewSettingsHandler(settingsSvc)

	// Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", systemHandler.Health)
		r.Get("/nm/status", systemHandler.NetworkStatus)

		r.Post("/detector/start", detectorHandler.Start)
		r.Post("/detector/stop", detectorHandler.Stop)
		r.Post("/detector/restart", detectorHandler.Restart)
		r.Get("/detector/status", detectorHandler.Status)

		r.Post("/led/test", ledHandler.Test)
		r.Get("/led/status", ledHandler.Status)

		r.Get("/logs/last", logsHandler.Last)

		r.Get("/gallery/index", galleryHandler.Index)
		r.Post("/gallery/rescan", galleryHandler.Rescan)

		r.Get("/settings/{ns}", settingsHandler.Get)
		r.Post("/settings/{ns}", settingsHandler.Update)
	})

	// Stream, snapshot and static image retrieval
	r.Get("/overlay.mjpg", overlay.ServeHTTP)
	r.Get("/snapshot", systemHandler.Snapshot)
	r.Get("/gallery/thumb/*", galleryHandler.Thumb)
	r.Get("/gallery/*", galleryHandler.File)

	r.Handle("/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Panel.Host, cfg.Panel.Port)
	log.Printf("Starting panel server on %s", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
