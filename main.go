package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile string
	DataDir    string
	OutputFile string
	Classify   bool
	Serve      bool
	Plan       bool
	Export     bool
	Init       bool
	Index      int
	HttpPort   int
	Epochs     int // -1 keeps the configured value
	Factor     int // 0 keeps the configured partition policy
	Debug      bool
}

// AppRunner is the set of modes run dispatches to
type AppRunner interface {
	ApplyOptions(opts AppOptions)
	RunClassify() error
	RunServe() error
	RunPlan() error
	RunExport() error
	RunInit() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "tilemap: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, app AppRunner) error {
	fs := flag.NewFlagSet("tilemap", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.DataDir, "data-dir", ".", "Directory containing the input images")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --export and --plan (default stdout)")
	fs.BoolVar(&opts.Classify, "classify", false, "Classify and denoise every image in --data-dir")
	fs.BoolVar(&opts.Serve, "serve", false, "Run the HTTP API over stored predictions")
	fs.BoolVar(&opts.Plan, "plan", false, "Print the block plan of each image without classifying")
	fs.BoolVar(&opts.Export, "export", false, "Export the regions of image --index as GeoJSON")
	fs.BoolVar(&opts.Init, "init", false, "Write a default configuration to --config")
	fs.IntVar(&opts.Index, "index", -1, "Image index for --export and --plan (-1 for all in --plan)")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.IntVar(&opts.Epochs, "epochs", -1, "Override denoise.epochs")
	fs.IntVar(&opts.Factor, "factor", 0, "Override the partition factor")
	fs.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintf(out, "tilemap version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.Init:
		return app.RunInit()
	case opts.Plan:
		return app.RunPlan()
	case opts.Export:
		if opts.Index < 0 {
			return fmt.Errorf("--export requires --index")
		}
		return app.RunExport()
	case opts.Serve:
		return app.RunServe()
	case opts.Classify:
		return app.RunClassify()
	}

	fmt.Fprintln(out, "tilemap service starting...")
	fmt.Fprintln(out, "Use --init to write a default config.yaml")
	fmt.Fprintln(out, "Use --classify to classify and denoise the images in --data-dir")
	fmt.Fprintln(out, "Use --plan to preview the block layout without classifying")
	fmt.Fprintln(out, "Use --export --index=N to write the regions of image N as GeoJSON")
	fmt.Fprintln(out, "Use --serve to run the HTTP API (add --classify to classify first)")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - tile size, partition steps, classifier, store and MQTT settings")
	return nil
}
