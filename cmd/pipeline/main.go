// Command pipeline fetches the indicator sources, builds the per-country
// tables and writes them to the configured sinks, then exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"healthcli/internal/app"
	"healthcli/internal/config"
	"healthcli/internal/dataprocessing"
	"healthcli/internal/infrastructure"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file (defaults to $HEALTH_CONFIG_FILE or config.yaml)")
	country := flag.String("country", "", "country to process (WHO spelling); defaults to the configured countries")
	wbCountry := flag.String("wb-country", "", "World Bank spelling of -country when it differs")
	formats := flag.String("formats", "", "comma separated sinks overriding output.formats (csv, xlsx, sqlite)")
	flag.Parse()

	if err := run(*configPath, *country, *wbCountry, *formats); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, country, wbCountry, formats string) error {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if formats != "" {
		cfg.Output.Formats = strings.Split(formats, ",")
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid -formats: %w", err)
		}
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	defer application.Stop(context.WithoutCancel(ctx))

	var countries []dataprocessing.Country
	if country != "" {
		countries = []dataprocessing.Country{{Name: country, WorldBankName: wbCountry}}
	}

	results, err := application.RunPipeline(ctx, countries)
	for _, res := range results {
		if res == nil {
			continue
		}
		logger.InfoContext(ctx, "country processed",
			slog.String("country", res.Country.Name),
			slog.String("run_id", res.RunID),
			slog.Int("rows", res.Table.Len()),
			slog.Int("rows_dropped", res.Dropped),
			slog.Int("cells_imputed", res.Imputation.Total()),
			slog.Any("zero_filled", res.Finalize.ZeroFilled))
	}
	return err
}
