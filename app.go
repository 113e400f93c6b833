package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/kwv/tilemap/tiling"
	"go.uber.org/zap"
)

const (
	defaultConfigFile = "config.yaml"
	mqttConnectWait   = 10 * time.Second
	shutdownWait      = 5 * time.Second
)

// App encapsulates the application state and dependencies
type App struct {
	Config     *tiling.Config
	Logger     *zap.Logger
	Store      *tiling.Store
	MQTTClient *tiling.MQTTClient
	Publisher  *tiling.Publisher
	Progress   *tiling.ProgressTracker

	// Out receives the human readable output of the run modes
	Out io.Writer

	opts AppOptions
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Progress: tiling.NewProgressTracker(),
		Out:      os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// resolvePath places relative paths under the data directory
func (a *App) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || a.opts.DataDir == "" || a.opts.DataDir == "." {
		return p
	}
	return filepath.Join(a.opts.DataDir, p)
}

// setup loads configuration and the logger. It is idempotent.
func (a *App) setup() error {
	if a.Logger == nil {
		logger, err := tiling.NewLogger(a.opts.Debug)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		a.Logger = logger
	}
	if a.Progress == nil {
		a.Progress = tiling.NewProgressTracker()
	}
	if a.Out == nil {
		a.Out = os.Stdout
	}
	if a.Config != nil {
		return nil
	}

	configPath := a.opts.ConfigFile
	if configPath == "" {
		configPath = defaultConfigFile
	}
	if configPath == defaultConfigFile {
		configPath = a.resolvePath(configPath)
	}

	config, err := tiling.LoadConfig(configPath)
	switch {
	case err == nil:
		a.Logger.Info("loaded config", zap.String("path", configPath))
	case a.opts.ConfigFile == defaultConfigFile || a.opts.ConfigFile == "":
		if _, statErr := os.Stat(configPath); !os.IsNotExist(statErr) {
			return fmt.Errorf("failed to load config: %w (looked at %s)", err, configPath)
		}
		a.Logger.Info("no config file, using defaults", zap.String("path", configPath))
		config = tiling.DefaultConfig()
	default:
		return fmt.Errorf("failed to load config: %w (looked at %s)", err, configPath)
	}

	config.ApplyEnv()
	if err := a.applyOverrides(config); err != nil {
		return err
	}
	a.Config = config
	return nil
}

// applyOverrides applies --epochs and --factor and revalidates
func (a *App) applyOverrides(config *tiling.Config) error {
	if a.opts.Epochs >= 0 {
		epochs := a.opts.Epochs
		config.Denoise.Epochs = &epochs
	}
	if a.opts.Factor != 0 {
		config.Partition.Override = a.opts.Factor
	}
	return config.Validate()
}

func (a *App) openStore() error {
	if a.Store != nil {
		return nil
	}
	store, err := tiling.OpenStore(a.resolvePath(a.Config.Store.Path), a.Logger)
	if err != nil {
		return err
	}
	a.Store = store
	return nil
}

// newPipeline wires the configured classifier and denoiser
func (a *App) newPipeline() (*tiling.Pipeline, error) {
	policy, err := a.Config.PartitionPolicy()
	if err != nil {
		return nil, err
	}
	timeout, err := a.Config.ClassifierTimeout()
	if err != nil {
		return nil, err
	}
	classifier, err := tiling.NewHTTPClassifier(a.Config.Classifier.URL,
		tiling.WithClassifierPath(a.Config.Classifier.Path),
		tiling.WithClassifierTimeout(timeout),
		tiling.WithClassifierLogger(a.Logger))
	if err != nil {
		return nil, err
	}
	return &tiling.Pipeline{
		Tile:           a.Config.Tile,
		BatchSize:      a.Config.BatchSize,
		Fill:           a.Config.Fill,
		Policy:         policy,
		FactorOverride: a.Config.Partition.Override,
		Classifier:     classifier,
		Denoiser:       a.Config.NewDenoiser(),
		Workers:        a.Config.Workers,
		Logger:         a.Logger,
	}, nil
}

// connectPublisher connects to the broker when one is configured. A nil
// publisher means MQTT is disabled.
func (a *App) connectPublisher(ctx context.Context) error {
	if a.Publisher != nil {
		return nil
	}
	client, err := tiling.NewMQTTClient(a.Config.MQTT, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize MQTT: %w", err)
	}
	if client == nil {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, mqttConnectWait)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return fmt.Errorf("connecting to MQTT broker %s: %w", a.Config.MQTT.Broker, err)
	}
	a.MQTTClient = client
	a.Publisher = a.newPublisher(client.Client())
	return nil
}

func (a *App) newPublisher(client mqtt.Client) *tiling.Publisher {
	p := tiling.NewPublisher(client, a.Config.MQTT.PublishPrefix, a.Config.ClassN(), a.Logger)
	if q := a.Config.MQTT.QoS; q != nil {
		p.SetQoS(byte(*q))
	}
	if r := a.Config.MQTT.Retain; r != nil {
		p.SetRetain(*r)
	}
	return p
}

func (a *App) close() {
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn("closing store", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}

// openOutput returns the --output file or Out
func (a *App) openOutput() (io.Writer, func() error, error) {
	if a.opts.OutputFile == "" {
		return a.Out, func() error { return nil }, nil
	}
	f, err := os.Create(a.opts.OutputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

// RunInit writes the default configuration, with --epochs and --factor
// applied, to --config. An existing file is never overwritten.
func (a *App) RunInit() error {
	if a.Out == nil {
		a.Out = os.Stdout
	}
	path := a.opts.ConfigFile
	if path == "" || path == defaultConfigFile {
		path = a.resolvePath(defaultConfigFile)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	config := tiling.DefaultConfig()
	if err := a.applyOverrides(config); err != nil {
		return err
	}
	if err := tiling.SaveConfig(path, config); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Wrote config to %s\n", path)
	return nil
}

// RunPlan prints the factor and block layout of each image without calling
// the classifier
func (a *App) RunPlan() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer func() { _ = a.Logger.Sync() }()

	pipeline, err := a.newPipeline()
	if err != nil {
		return err
	}
	src, err := tiling.NewDirSource(a.opts.DataDir)
	if err != nil {
		return err
	}
	if src.Len() == 0 {
		return fmt.Errorf("no images found in %s", a.opts.DataDir)
	}
	if a.opts.Index >= src.Len() {
		return fmt.Errorf("index %d out of range, %d images found", a.opts.Index, src.Len())
	}

	var lastPlan *tiling.Plan
	for i := 0; i < src.Len(); i++ {
		if a.opts.Index >= 0 && i != a.opts.Index {
			continue
		}
		img, err := src.Load(i)
		if err != nil {
			return err
		}
		padded, plan, err := pipeline.Prepare(img)
		if err != nil {
			return fmt.Errorf("image %d: %w", i, err)
		}
		fmt.Fprintf(a.Out, "[%d] %s: %dx%d padded to %dx%d, %dx%d tiles, factor %d, %d blocks\n",
			i, src.Name(i), img.Width, img.Height, padded.Width, padded.Height,
			plan.TileRows, plan.TileCols, plan.Factor, len(plan.Blocks))
		for _, b := range plan.Blocks {
			fmt.Fprintf(a.Out, "    block (%d,%d): rows %d+%d cols %d+%d, %d tiles\n",
				b.Row, b.Col, b.TileRow, b.TileRows, b.TileCol, b.TileCols, b.TileCount())
		}
		lastPlan = plan
	}

	if a.opts.OutputFile == "" || lastPlan == nil {
		return nil
	}
	if a.opts.Index < 0 && src.Len() > 1 {
		a.Logger.Warn("writing plan of the last image only, use --index to choose", zap.Int("images", src.Len()))
	}
	return a.writeJSON(tiling.PlanGeoJSON(lastPlan))
}

// RunClassify classifies and denoises every image in the data directory and
// saves the results to the store and, when configured, to MQTT
func (a *App) RunClassify() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.classify(ctx)
}

func (a *App) classify(ctx context.Context) error {
	if err := a.openStore(); err != nil {
		return err
	}
	if err := a.connectPublisher(ctx); err != nil {
		return err
	}
	pipeline, err := a.newPipeline()
	if err != nil {
		return err
	}
	src, err := tiling.NewDirSource(a.opts.DataDir)
	if err != nil {
		return err
	}
	if src.Len() == 0 {
		return fmt.Errorf("no images found in %s", a.opts.DataDir)
	}

	sinks := []tiling.Sink{a.Store}
	if a.Publisher != nil {
		sinks = append(sinks, a.Publisher)
	}

	start := time.Now()
	pipeline.RunID = uuid.NewString()
	a.Progress.Begin(pipeline.RunID, src.Len())
	err = pipeline.RunEach(ctx, src, a.Progress.Update, sinks...)
	snap := a.Progress.Snapshot()
	fmt.Fprintf(a.Out, "Run %s: %d/%d images done, %d failed in %s\n",
		snap.RunID, snap.Done, snap.Total, snap.Failed, time.Since(start).Round(time.Millisecond))
	return err
}

// RunExport writes the denoised regions of one stored image as GeoJSON
func (a *App) RunExport() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.close()
	if err := a.openStore(); err != nil {
		return err
	}

	res, err := a.Store.Get(context.Background(), a.opts.Index)
	if err != nil {
		if errors.Is(err, tiling.ErrNotFound) {
			return fmt.Errorf("image %d has not been classified yet: %w", a.opts.Index, err)
		}
		return err
	}
	return a.writeJSON(tiling.RegionsGeoJSON(res.Grid, res.Tile, a.Config.Classes))
}

func (a *App) writeJSON(v any) error {
	w, closeFn, err := a.openOutput()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = closeFn()
		return fmt.Errorf("encoding output: %w", err)
	}
	if err := closeFn(); err != nil {
		return err
	}
	if a.opts.OutputFile != "" {
		fmt.Fprintf(a.Out, "Saved to %s\n", a.opts.OutputFile)
	}
	return nil
}

// RunServe serves stored predictions over HTTP until interrupted. With
// --classify the data directory is processed in the background.
func (a *App) RunServe() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.close()
	if err := a.openStore(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("0.0.0.0:%d", a.opts.HttpPort)
	server := &http.Server{
		Addr:              addr,
		Handler:           newHTTPServer(a.Store, a.Config.Classes, a.Progress, a.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		a.Logger.Info("starting HTTP server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	classifyDone := make(chan struct{})
	if a.opts.Classify {
		go func() {
			defer close(classifyDone)
			if err := a.classify(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.Logger.Error("classification failed", zap.Error(err))
			}
		}()
	} else {
		close(classifyDone)
	}

	fmt.Fprintln(a.Out, "\nService Running")
	fmt.Fprintln(a.Out, "===============")
	fmt.Fprintf(a.Out, "\nHTTP endpoints (port %d):\n", a.opts.HttpPort)
	fmt.Fprintln(a.Out, "  GET /health                          - Health check and run progress")
	fmt.Fprintln(a.Out, "  GET /api/classes                     - Class names and colors")
	fmt.Fprintln(a.Out, "  GET /api/images                      - Stored predictions")
	fmt.Fprintln(a.Out, "  GET /api/images/{index}              - Denoised label grid")
	fmt.Fprintln(a.Out, "  GET /api/images/{index}/regions.geojson - Class regions")
	if a.Config.MQTT.Broker != "" && a.opts.Classify {
		fmt.Fprintf(a.Out, "\nMQTT publishing to: %s/images/{index}\n", a.Config.MQTT.PublishPrefix)
	}
	fmt.Fprintln(a.Out, "\nPress Ctrl+C to stop")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serverErr:
	}

	fmt.Fprintln(a.Out, "\nShutting down service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("HTTP shutdown", zap.Error(err))
	}
	stop()
	<-classifyDone
	if serveErr != nil {
		return fmt.Errorf("HTTP server: %w", serveErr)
	}
	fmt.Fprintln(a.Out, "Service stopped")
	return nil
}
