package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nemezkarl-source/DD5KA/cmd/server"
	"github.com/nemezkarl-source/DD5KA/cmd/watch"
	"github.com/nemezkarl-source/DD5KA/config"
	"github.com/nemezkarl-source/DD5KA/detector"
	"github.com/nemezkarl-source/DD5KA/services"
)

var rootDir string

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	switch command {
	case "serve":
		runServe(os.Args[2:])
	case "detect":
		runDetect(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "index":
		runIndex(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: dd5ka <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  serve     Start the panel HTTP server")
	fmt.Fprintln(os.Stderr, "  detect    Run the detector daemon against a panel")
	fmt.Fprintln(os.Stderr, "  watch     Watch a remote panel from the console")
	fmt.Fprintln(os.Stderr, "  index     Rescan the snapshot gallery into the index")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Common flags:")
	fmt.Fprintln(os.Stderr, "  -root     Project root directory (default: cwd)")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Run 'dd5ka <command> -help' for details.")
}

func addRootFlag(fs *flag.FlagSet) {
	fs.StringVar(&rootDir, "root", "", "project root directory (default: cwd)")
}

func resolveRoot() string {
	if rootDir != "" {
		abs, err := filepath.Abs(rootDir)
		if err != nil {
			log.Fatalf("resolving root: %v", err)
		}
		return abs
	}

	// Default: directory containing the executable, if it carries a config/
	// subdir, otherwise the current working directory.
	exe, err := os.Executable()
	if err == nil {
		candidate := filepath.Dir(exe)
		if _, err := os.Stat(filepath.Join(candidate, "config")); err == nil {
			return candidate
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		log.Fatalf("getting cwd: %v", err)
	}
	return cwd
}

func loadAppConfig() *config.AppConfig {
	root := resolveRoot()
	panelYaml := filepath.Join(root, "config", "panel.yaml")
	detectorYaml := filepath.Join(root, "config", "detector.yaml")

	cfg, err := config.LoadConfig(panelYaml, detectorYaml)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	// Make relative paths absolute against project root
	if !filepath.IsAbs(cfg.Panel.DataDir) {
		cfg.Panel.DataDir = filepath.Join(root, cfg.Panel.DataDir)
	}
	if !filepath.IsAbs(cfg.Overlay.DetectionsFile) {
		cfg.Overlay.DetectionsFile = filepath.Join(root, cfg.Overlay.DetectionsFile)
	}
	if !filepath.IsAbs(cfg.Gallery.SnapsDir) {
		cfg.Gallery.SnapsDir = filepath.Join(root, cfg.Gallery.SnapsDir)
	}
	if !filepath.IsAbs(cfg.Gallery.ThumbDir) {
		cfg.Gallery.ThumbDir = filepath.Join(root, cfg.Gallery.ThumbDir)
	}
	if !filepath.IsAbs(cfg.Gallery.DBPath) {
		cfg.Gallery.DBPath = filepath.Join(root, cfg.Gallery.DBPath)
	}
	if !filepath.IsAbs(cfg.Detector.SaveDir) {
		cfg.Detector.SaveDir = filepath.Join(root, cfg.Detector.SaveDir)
	}

	return cfg
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addRootFlag(fs)
	fs.Parse(args)

	cfg := loadAppConfig()
	server.Start(cfg)
}

func runDetect(args []string) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	addRootFlag(fs)
	fs.Parse(args)

	cfg := loadAppConfig()

	events := services.NewEventLog(cfg.Overlay.DetectionsFile, cfg.Overlay.TailBytes, nil)

	// The daemon shares the gallery index with the panel server; sqlite in
	// WAL mode handles the two writers.
	var gallery *services.GalleryService
	storage, err := services.NewStorage(cfg.Gallery.DBPath)
	if err != nil {
		log.Printf("detect: gallery index unavailable: %v", err)
	} else {
		defer storage.Close()
		gallery, err = services.NewGalleryService(cfg.Gallery, storage)
		if err != nil {
			log.Printf("detect: gallery index unavailable: %v", err)
			gallery = nil
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	daemon := detector.New(cfg.Detector, events, gallery)
	if err := daemon.Run(ctx); err != nil {
		log.Fatalf("detect: %v", err)
	}
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	url := fs.String("url", "http://127.0.0.1:8098", "panel base URL")
	stream := fs.Bool("stream", false, "also consume the MJPEG overlay stream")
	fs.Parse(args)

	if err := watch.Run(*url, *stream); err != nil {
		log.Fatalf("watch: %v", err)
	}
}

func runIndex(args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	addRootFlag(fs)
	fs.Parse(args)

	cfg := loadAppConfig()

	storage, err := services.NewStorage(cfg.Gallery.DBPath)
	if err != nil {
		log.Fatalf("opening index: %v", err)
	}
	defer storage.Close()

	gallery, err := services.NewGalleryService(cfg.Gallery, storage)
	if err != nil {
		log.Fatalf("opening gallery: %v", err)
	}

	added, err := gallery.Rescan()
	if err != nil {
		log.Fatalf("rescan: %v", err)
	}
	fmt.Printf("Indexed %d new snapshot(s)\n", added)
}
