// Command focuslockd runs the focus-lock daemon: the camera acquisition
// loop, the lock controller, the stage position poller, and the HTTP API.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/arcus-instruments/focuslock/internal/analysis"
	"github.com/arcus-instruments/focuslock/internal/api"
	"github.com/arcus-instruments/focuslock/internal/camera"
	"github.com/arcus-instruments/focuslock/internal/config"
	"github.com/arcus-instruments/focuslock/internal/device"
	"github.com/arcus-instruments/focuslock/internal/lock"
	"github.com/arcus-instruments/focuslock/internal/lockdb"
	"github.com/arcus-instruments/focuslock/internal/stage"
	"github.com/arcus-instruments/focuslock/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Run against the mock stage instead of serial hardware")
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "", "Path to the JSON configuration file")
	stagePort  = flag.String("stage-port", "", "Stage controller serial port (overrides config)")
	dbPath     = flag.String("db", "", "Lock database path (overrides config)")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("focuslockd %s (%s)", version.Version, version.GitSHA)

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	analyzer, err := analysis.NewAnalyzer(analysis.AnalyzerParams{
		Geometry:   analysis.Geometry(cfg.GetGeometry()),
		ROI1:       cfg.GetROI1(),
		ROI2:       cfg.GetROI2(),
		ZeroDist:   cfg.GetZeroDist(),
		Background: cfg.GetBackground(),
		Sigma:      cfg.GetSigma(),
		Threshold:  cfg.GetThreshold(),
	})
	if err != nil {
		log.Fatalf("failed to build analyzer: %v", err)
	}
	acc, err := analysis.NewAccumulator(cfg.GetReps(), cfg.GetMinGood(), cfg.GetSumScale(), cfg.GetSumZero())
	if err != nil {
		log.Fatalf("failed to build accumulator: %v", err)
	}

	// All stage access, commands and polling alike, serializes on one
	// device mutex: coarse and fine are axes of the same controller.
	deviceMu := &sync.Mutex{}

	var driver stage.Driver
	if *devMode {
		driver = stage.NewMockStage()
	} else {
		port := cfg.GetStagePort()
		if *stagePort != "" {
			port = *stagePort
		}
		if port == "" {
			log.Fatal("stage port is required outside dev mode (set -stage-port or stage_port)")
		}
		driver, err = stage.Open(stage.SerialOptions{
			Port:     port,
			BaudRate: cfg.GetStageBaudRate(),
			StageID:  cfg.GetStageID(),
			UnitToUm: cfg.GetStageUnitToUm(),
			ZMin:     cfg.GetCoarseMin(),
			ZMax:     cfg.GetCoarseMax(),
		})
		if err != nil {
			log.Fatalf("failed to open stage: %v", err)
		}
	}

	path := cfg.GetDBPath()
	if *dbPath != "" {
		path = *dbPath
	}
	ldb, err := lockdb.Open(path)
	if err != nil {
		log.Fatalf("failed to open lock database: %v", err)
	}

	offMin, offMax, offWarnLow, offWarnHigh := cfg.GetOffsetThresholds()
	sumMin, sumMax, sumWarnLow, sumWarnHigh := cfg.GetSumThresholds()
	eval := lock.NewEvaluator(
		lock.Thresholds{Min: offMin, Max: offMax, WarnLow: offWarnLow, WarnHigh: offWarnHigh},
		lock.Thresholds{Min: sumMin, Max: sumMax, WarnLow: sumWarnLow, WarnHigh: sumWarnHigh},
	)

	ctrl, err := lock.NewController(lock.ControllerConfig{
		Driver:    driver,
		DeviceMu:  deviceMu,
		CoarseMin: cfg.GetCoarseMin(),
		CoarseMax: cfg.GetCoarseMax(),
		FineMin:   cfg.GetFineMin(),
		FineMax:   cfg.GetFineMax(),
		Params: lock.Params{
			Gain:     cfg.GetGain(),
			ZOffsets: cfg.GetZOffsets(),
		},
		Evaluator: eval,
		Store:     ldb,
	})
	if err != nil {
		log.Fatalf("failed to build controller: %v", err)
	}

	// The vendor camera SDK plugs in behind the camera.Camera interface;
	// the shipped binary runs the simulator.
	cam := camera.NewSimCamera(512, 512)
	loop, err := camera.NewLoop(camera.LoopConfig{
		Camera:      cam,
		Analyzer:    analyzer,
		Accumulator: acc,
		OnSample:    ctrl.HandleSample,
	})
	if err != nil {
		log.Fatalf("failed to build acquisition loop: %v", err)
	}
	if err := loop.Start(); err != nil {
		log.Fatalf("failed to start acquisition loop: %v", err)
	}

	poller := device.NewPoller(stage.FinePollable(driver), deviceMu, cfg.GetUpdateInterval(), nil)
	go poller.Run()

	srv := api.NewServer(ctrl, loop, poller)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or over Tailscale)
		ldb.AttachAdminRoutes(mux)
		srv.AttachAdminRoutes(mux)

		apiMux := srv.ServeMux()
		mux.Handle("/api/", apiMux)
		mux.Handle("/charts/", apiMux)
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "focuslockd\n")
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// Teardown order matters: no samples may arrive after the controller
	// closes, and no queue may touch the driver after it shuts down.
	if err := loop.Stop(); err != nil {
		log.Printf("acquisition loop stop error: %v", err)
	}
	poller.Stop()
	srv.Close()
	ctrl.Close()
	if err := driver.ShutDown(); err != nil {
		log.Printf("stage shutdown error: %v", err)
	}
	if err := ldb.Close(); err != nil {
		log.Printf("database close error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
