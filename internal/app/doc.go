// Package app wires configuration, telemetry, the indicator store, the
// pipeline and the HTTP API into one Application.
//
// # Initialization Flow
//
//  1. Resolve paths and create the data, reports, cache and log directories
//  2. Install OpenTelemetry providers and runtime gauges
//  3. Open the SQLite store and build the fetcher, sinks and pipeline
//  4. Build the indicator and health services
//  5. Build the chi router and the HTTP server
//
// # Usage
//
//	cfg, _ := config.Load()
//	logger, _ := infrastructure.InitializeLogger(cfg.Logging)
//	a, err := app.New(cfg, logger, app.Options{})
//	if err != nil {
//	    return err
//	}
//	return a.Run(ctx)
//
// Run handles SIGINT and SIGTERM: the server drains in-flight requests for
// up to the configured shutdown timeout, then the store is closed and
// telemetry flushed. The package never calls os.Exit.
package app
