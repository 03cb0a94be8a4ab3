// Command fetch performs one upstream lookup with the service configuration
// and prints the snapshot as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"fxstream/internal/app"
	"fxstream/internal/config"
	"fxstream/internal/provider"
)

func main() {
	var base, symbolsCSV, configPath string
	var timeout time.Duration

	flag.StringVar(&base, "base", "", "base currency (default from config)")
	flag.StringVar(&symbolsCSV, "symbols", "", "comma-separated quote currencies (default from config)")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml (optional)")
	flag.DurationVar(&timeout, "timeout", 15*time.Second, "overall timeout")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if base == "" {
		base = cfg.Stream.DefaultBase
	}
	if symbolsCSV == "" {
		symbolsCSV = cfg.Stream.DefaultSymbols
	}
	symbols := provider.ParseSymbols(symbolsCSV, cfg.Stream.MaxSymbols)
	if len(symbols) == 0 {
		log.Fatal("no symbols provided")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	p := app.NewProvider(cfg)
	snap, err := p.Fetch(ctx, provider.NormalizeBase(base), symbols)
	if err != nil {
		log.Fatalf("%s error: %v", p.Name(), err)
	}

	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	fmt.Println(string(b))
}
