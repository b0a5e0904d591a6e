// Package dataprocessing turns raw indicator payloads into one finalized
// table per country.
//
// # Stages
//
//	ParseCSV           raw bytes -> RawTable (preamble skipped)
//	Normalize          RawTable -> (DIM_TIME, SOURCE_metric...) rows for a country
//	Merge              full outer join on DIM_TIME
//	DropUninformative  drop years where every target indicator is null
//	Imputer.Impute     interpolate, derive, forward-fill, backward-fill
//	Finalize           fixed column order, ascending years, empty-column policy
//	Validate           no nulls, strictly ascending years, non-negative values
//
// Pipeline wires the stages to a Fetcher and a list of Sinks and records each
// stage as an OpenTelemetry span.
//
// # Errors
//
// Stages return the sentinel errors in errors.go wrapped with context, so
// callers can test them with errors.Is. Pipeline classifies them into
// application errors before returning.
//
// # Usage
//
//	p, err := dataprocessing.NewPipeline(cfg, fetcher, sinks, logger)
//	if err != nil {
//	    return err
//	}
//	res, err := p.Run(ctx, dataprocessing.Country{Name: "Brazil", WorldBankName: "Brazil"})
package dataprocessing
