// Package exporter writes finalized indicator tables to report files.
//
// CSVSink writes {reports_dir}/{country}.csv and XLSXSink writes
// {reports_dir}/{country}.xlsx. Both write to a temporary file in the target
// directory and rename it into place, so a reader never observes a partially
// written report and a rerun replaces the previous one.
//
// Example usage:
//
//	paths, _ := config.ResolvePaths(cfg.Paths)
//	sink := exporter.NewCSVSink(exporter.NewCSVWriter(paths), false)
//	err := sink.Write(ctx, "Brazil", table)
package exporter
