package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/banshee-data/packcam"
	"github.com/banshee-data/packcam/internal/api"
	"github.com/banshee-data/packcam/internal/broadcast"
	"github.com/banshee-data/packcam/internal/camera"
	"github.com/banshee-data/packcam/internal/capture"
	"github.com/banshee-data/packcam/internal/config"
	"github.com/banshee-data/packcam/internal/events"
	"github.com/banshee-data/packcam/internal/evidence"
	"github.com/banshee-data/packcam/internal/httputil"
	"github.com/banshee-data/packcam/internal/ingest"
	"github.com/banshee-data/packcam/internal/monitoring"
	"github.com/banshee-data/packcam/internal/timeutil"
	"github.com/banshee-data/packcam/internal/upstream"
	"github.com/banshee-data/packcam/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Path to the JSON config file")
	devMode     = flag.Bool("dev", false, "Run with simulated cameras and serve ./static from disk")
	showVersion = flag.Bool("version", false, "Print version and exit")
	evidenceDir = flag.String("evidence-dir", "", "Evidence root directory (overrides config)")
	httpListen  = flag.String("listen", "", "HTTP listen address (overrides config)")
)

const lockFileName = ".packcam.lock"

// loadConfig reads path. A missing default config is not an error: the
// built-in defaults apply.
func loadConfig(path string) (*config.Config, error) {
	if path == config.DefaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			log.Printf("no config at %s, using built-in defaults", path)
			return config.Empty(), nil
		}
	}
	return config.Load(path)
}

// applyOverrides copies non-empty flag values onto cfg.
func applyOverrides(cfg *config.Config, evidence, listen string) {
	if evidence != "" {
		cfg.EvidenceDir = &evidence
	}
	if listen != "" {
		cfg.HTTPListen = &listen
	}
}

// acquireLock takes the single-writer lock in the evidence root.
func acquireLock(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	path := filepath.Join(dir, lockFileName)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another packcam instance holds %s", path)
	}
	return lock, nil
}

// buildRig binds one device per configured camera.
func buildRig(cfg *config.Config, simulate bool, w camera.ImageWriter, client httputil.HTTPClient, clock timeutil.Clock) (*camera.Rig, error) {
	rig := camera.NewRig(w, cfg.GetDeviceTimeout())
	for _, cam := range cfg.CameraSet(simulate) {
		var d camera.Device
		switch cam.Kind {
		case config.CameraSnapshot:
			d = camera.NewSnapshotDevice(client, cam.SnapshotURL, cam.TriggerURL)
		default:
			d = camera.NewSimulatedDevice(cam.Slot, clock)
		}
		if err := rig.Bind(cam.Slot, d); err != nil {
			return nil, err
		}
	}
	return rig, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyOverrides(cfg, *evidenceDir, *httpListen)

	root := cfg.GetEvidenceDir()
	lock, err := acquireLock(root)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer lock.Unlock()

	clock := timeutil.RealClock{}
	store := evidence.NewStore(root, nil, clock)
	rig, err := buildRig(cfg, *devMode, store, httputil.NewStandardClient(nil), clock)
	if err != nil {
		log.Fatalf("failed to configure cameras: %v", err)
	}
	log.Printf("evidence root %s, %d camera(s) %v", root, rig.Len(), rig.Slots())

	var upstreamClient *upstream.Client
	upstreamConnected := func() bool { return upstreamClient != nil && upstreamClient.Connected() }

	bc := broadcast.New(broadcast.Options{
		WriteTimeout: cfg.GetSubscriberWriteTimeout(),
		Greeting: func() events.SystemStatus {
			return events.SystemStatus{
				Status:   "ready",
				Cameras:  rig.Len(),
				Upstream: upstreamConnected(),
				Version:  version.Version,
			}
		},
	})
	defer bc.Close()
	monitoring.SetSink(func(line string) {
		bc.Publish(events.New(events.KindLog, events.Log{Message: line}, clock.Now()))
	})
	defer monitoring.SetSink(nil)

	orch := capture.New(store, rig, bc, capture.Options{
		Countdown:  cfg.GetCountdownSeconds(),
		QueueDepth: cfg.GetQueueDepth(),
		Clock:      clock,
	})
	bc.SetHandler(orch)
	pipeline := ingest.NewPipeline(orch, bc, clock)

	// Binding either listening socket is the only fatal runtime condition.
	trigger := ingest.NewListener(ingest.ListenerConfig{
		Address: cfg.GetTriggerListen(),
		Handler: pipeline,
		Poll:    cfg.GetAcceptPoll(),
	})
	if err := trigger.Bind(); err != nil {
		log.Fatalf("trigger listener: %v", err)
	}
	log.Printf("waiting for scanner triggers on %s", trigger.Addr())

	subscribers, err := net.Listen("tcp", cfg.GetBroadcastListen())
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", cfg.GetBroadcastListen(), err)
	}
	log.Printf("broadcasting status on %s", subscribers.Addr())

	if addr := cfg.GetUpstreamAddress(); addr != "" {
		upstreamClient = upstream.NewClient(upstream.Config{
			Address:   addr,
			Backoff:   cfg.GetUpstreamBackoff(),
			Threshold: cfg.GetConfidenceThreshold(),
			Submitter: orch,
			Publisher: bc,
			Clock:     clock,
		})
	}

	var serialSource *ingest.SerialSource
	if path := cfg.GetSerialPort(); path != "" {
		serialSource, err = ingest.NewSerialSource(ingest.SerialConfig{
			Path:    path,
			Options: cfg.GetSerialOptions(),
			Handler: pipeline,
			Clock:   clock,
		})
		if err != nil {
			log.Fatalf("serial scanner %s: %v", path, err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s stopped: %v", name, err)
			}
			log.Printf("%s routine terminated", name)
		}()
	}

	run("orchestrator", orch.Run)
	run("broadcaster", func(ctx context.Context) error { return bc.Serve(ctx, subscribers) })
	run("trigger listener", trigger.Run)
	if upstreamClient != nil {
		run("upstream client", upstreamClient.Run)
	}
	if serialSource != nil {
		run("serial scanner", serialSource.Run)
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(orch, store, api.Status{
			UpstreamConnected: upstreamConnected,
			Subscribers:       bc.Count,
			Cameras:           rig.Len,
		}).ServeMux()
		bc.AttachAdminRoutes(mux)

		// read the dashboard from the embedded filesystem in production or from
		// the local ./static in dev for easier iteration without restarting the
		// server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticHandler = http.FileServer(http.FS(packcam.StaticFS()))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    cfg.GetHTTPListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("operator API on http://%s", cfg.GetHTTPListen())

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
