package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mini-rodalies-3d/segmenter/internal/config"
	"github.com/mini-rodalies-3d/segmenter/internal/logging"
	"github.com/mini-rodalies-3d/segmenter/internal/osm"
	"github.com/mini-rodalies-3d/segmenter/internal/street"
)

// locate resolves a single coordinate to its street segment
func main() {
	configPath := flag.String("config", "", "YAML config file (default $SEGMENTER_CONFIG)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config file] <lat> <lon>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	lat, err := strconv.ParseFloat(flag.Arg(0), 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid latitude %q\n", flag.Arg(0))
		os.Exit(2)
	}
	lon, err := strconv.ParseFloat(flag.Arg(1), 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid longitude %q\n", flag.Arg(1))
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	opts := osm.Options{
		UserAgent:      cfg.Nominatim.UserAgent,
		Timeout:        cfg.HTTP.Timeout,
		MaxAttempts:    cfg.HTTP.RetryMaxAttempts,
		InitialBackoff: cfg.HTTP.RetryInitialInterval,
		Logger:         logger,
	}
	nominatimOpts, overpassOpts := opts, opts
	nominatimOpts.BaseURL = cfg.Nominatim.URL
	overpassOpts.BaseURL = cfg.Overpass.URL

	locator := street.NewLocator(osm.NewNominatim(nominatimOpts), osm.NewOverpass(overpassOpts))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	m, err := locator.Locate(ctx, lat, lon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not locate %v,%v: %v\n", lat, lon, err)
		os.Exit(1)
	}

	fmt.Printf("street:  %s (way %d)\n", m.StreetName, m.StreetID)
	fmt.Printf("segment: %d (%.3f km)\n", m.Index, m.LengthKm)
	fmt.Printf("token:   %s\n", m.Key().Token())
}
