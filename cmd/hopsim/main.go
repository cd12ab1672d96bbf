package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/netsec-simulator/core"
	"github.com/signalsfoundry/netsec-simulator/internal/config"
	"github.com/signalsfoundry/netsec-simulator/internal/eventstream"
	"github.com/signalsfoundry/netsec-simulator/internal/lesson"
	"github.com/signalsfoundry/netsec-simulator/internal/logging"
	"github.com/signalsfoundry/netsec-simulator/internal/observability"
	"github.com/signalsfoundry/netsec-simulator/kb"
	"github.com/signalsfoundry/netsec-simulator/timectrl"
)

type options struct {
	configPath  string
	scenePath   string
	lessonPath  string
	duration    time.Duration
	fps         int
	accelerated bool
	watch       bool
}

// summary describes a finished run.
type summary struct {
	Frames  int
	SimTime time.Duration
	Stopped int // hops force-stopped at shutdown
	Lesson  *lesson.Result
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("hopsim", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "Path to a TOML config file")
	fs.StringVar(&opts.scenePath, "scene", "", "YAML scene file (overrides scene.file)")
	fs.StringVar(&opts.lessonPath, "lesson", "", "YAML lesson script (overrides scene.lesson)")
	fs.DurationVar(&opts.duration, "duration", 0, "Stop after this much simulation time (0 runs until the lesson ends or SIGINT)")
	fs.IntVar(&opts.fps, "fps", 0, "Frames per second (overrides engine.fps)")
	fs.BoolVar(&opts.accelerated, "accelerated", false, "Run frames as fast as possible instead of in real time")
	fs.BoolVar(&opts.watch, "watch", false, "Reload anchor positions when the scene file changes")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "hopsim:", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if opts.scenePath != "" {
		cfg.Scene.File = opts.scenePath
	}
	if opts.lessonPath != "" {
		cfg.Scene.Lesson = opts.lessonPath
	}
	if opts.fps > 0 {
		cfg.Engine.FPS = opts.fps
	}
	if opts.watch {
		cfg.Scene.Watch = true
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// run wires the simulator and drives frames until the lesson completes, the
// duration elapses or ctx is cancelled.
func run(ctx context.Context, opts options, out io.Writer) (summary, error) {
	var sum summary
	cfg, err := loadConfig(opts)
	if err != nil {
		return sum, err
	}

	log := logging.NewWithWriter(cfg.LoggingConfig(), out)
	log = log.With(logging.String("component", "hopsim"))

	reg := prometheus.NewRegistry()
	hopMetrics, err := observability.NewHopCollector(reg)
	if err != nil {
		return sum, fmt.Errorf("init hop metrics: %w", err)
	}
	loopMetrics, err := observability.NewLoopCollector(reg)
	if err != nil {
		return sum, fmt.Errorf("init loop metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.Metrics, hopMetrics, log)

	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingConfig(), log)
	if err != nil {
		return sum, fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	scene := kb.NewScene()
	motion := core.NewMotionModel(core.WithPositionUpdater(scene))
	if cfg.Scene.File != "" {
		if err := loadScene(cfg.Scene.File, scene, motion, log); err != nil {
			return sum, err
		}
	}

	c := core.NewCoordinator(scene, cfg.EngineConfig(),
		core.WithTokenSink(scene),
		core.WithVisualScene(scene),
		core.WithLogger(log),
		core.WithMetricsRecorder(hopMetrics),
	)
	c.SetSpeed(cfg.Engine.Speed)
	tracer := observability.NewHopTracer(c.Bus(), nil)

	hub := eventstream.NewHub(c,
		eventstream.WithClientBuffer(cfg.Stream.ClientBuffer),
		eventstream.WithMetrics(loopMetrics),
		eventstream.WithLogger(log),
	)
	hub.Attach()
	streamSrv := serveStream(cfg.Stream, hub, log)

	var runner *lesson.Runner
	var lessonDone <-chan struct{}
	if cfg.Scene.Lesson != "" {
		l, err := lesson.LoadFile(cfg.Scene.Lesson)
		if err != nil {
			return sum, err
		}
		runner = lesson.NewRunner(c, l, log)
		lessonDone = runner.Done()
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if cfg.Scene.Watch && cfg.Scene.File != "" {
		go func() {
			if err := kb.WatchSceneFile(watchCtx, cfg.Scene.File, scene, log); err != nil {
				log.Warn(ctx, "scene watcher exited", logging.Err(err))
			}
		}()
	}

	se := core.NewSimulationEngine(c, core.WithMotionModel(motion), core.WithEngineLogger(log))
	mode := timectrl.RealTime
	if opts.accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Second/time.Duration(cfg.Engine.FPS), mode)
	frames := 0
	tc.AddListener(func(simTime, delta time.Duration) {
		start := time.Now()
		// motion errors are logged by the engine
		_ = se.Tick(simTime.Seconds(), delta.Seconds())
		if runner != nil {
			runner.Update()
		}
		frames++
		loopMetrics.ObserveFrame(time.Since(start))
	})

	if runner != nil {
		runner.Start()
	}
	log.Info(ctx, "simulation started",
		logging.Int("fps", cfg.Engine.FPS),
		logging.Bool("accelerated", opts.accelerated),
		logging.Duration("duration", opts.duration),
		logging.Int("anchors", len(scene.ListAnchors())),
	)

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	done := tc.Start(loopCtx, opts.duration)
	select {
	case <-done:
	case <-lessonDone:
		stopLoop()
		<-done
	case <-ctx.Done():
		stopLoop()
		<-done
	}

	// the frame loop has exited; coordinator calls are safe from here
	sum.Frames = frames
	sum.SimTime = tc.Elapsed()
	sum.Stopped = c.ForceStopAll()
	if runner != nil {
		res := runner.Result()
		sum.Lesson = &res
		runner.Close()
	}
	tracer.Close()
	hub.Detach()
	hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{streamSrv, metricsSrv} {
		if srv != nil {
			_ = srv.Shutdown(shutdownCtx)
		}
	}

	log.Info(ctx, "simulation finished",
		logging.Int("frames", sum.Frames),
		logging.Duration("sim_time", sum.SimTime),
		logging.Int("force_stopped", sum.Stopped),
	)
	return sum, nil
}

func loadScene(path string, scene *kb.Scene, motion *core.MotionModel, log logging.Logger) error {
	spec, err := kb.LoadSceneFile(path)
	if err != nil {
		return err
	}
	applied, err := kb.ApplyScene(scene, spec)
	if err != nil {
		return fmt.Errorf("apply scene %s: %w", path, err)
	}
	if err := kb.BindMotion(motion, spec); err != nil {
		return fmt.Errorf("bind motion %s: %w", path, err)
	}
	log.Info(context.Background(), "loaded scene",
		logging.String("path", path),
		logging.Int("mounted", len(applied.Mounted)),
		logging.Int("moving", motion.Len()),
	)
	return nil
}

func serveMetrics(cfg config.Metrics, collector *observability.HopCollector, log logging.Logger) *http.Server {
	if cfg.Addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, collector.Handler())
	return serve("metrics", cfg.Addr, mux, log)
}

func serveStream(cfg config.Stream, hub *eventstream.Hub, log logging.Logger) *http.Server {
	if cfg.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, hub)
	return serve("event stream", cfg.Addr, mux, log)
}

func serve(name, addr string, h http.Handler, log logging.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), name+" server exited", logging.Err(err))
		}
	}()
	log.Info(context.Background(), "serving "+name, logging.String("addr", addr))
	return srv
}
