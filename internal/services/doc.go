// Package services implements the business logic behind the web API.
//
// IndicatorService reads finalized tables and run metadata from the store
// and triggers pipeline runs on demand. HealthService reports process and
// dependency health. Both take their collaborators as interfaces so handlers
// can be tested with mocks:
//
//	svc := services.NewIndicatorService(store, pipeline, logger)
//	series, err := svc.Indicators(ctx, "Brazil", services.IndicatorQuery{From: 2000})
//
// Services return AppErrors from internal/errors; the transport layer turns
// them into RFC 7807 problems.
package services
