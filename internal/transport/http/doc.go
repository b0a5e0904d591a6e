// Package http implements the web API over the stored indicator tables.
//
// Handlers are thin: they decode and validate the request, call a service
// and render JSON with chi/render. Every error goes through
// errors.ErrorHandler and is returned as an RFC 7807 problem document.
//
// Routes:
//
//	GET  /healthz                                  process and database health
//	GET  /metrics                                  Prometheus exposition
//	GET  /api/v1/countries                         stored countries
//	GET  /api/v1/countries/{country}/indicators    finalized rows, ?from=&to=
//	POST /api/v1/runs                              run the pipeline for a country
//
// NewRouter assembles the middleware chain in the order
// RequestID, RealIP, OTel, StructuredLogger, Recoverer, SecurityHeaders,
// RateLimiter.
package http
