package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler serves the Prometheus exposition. A nil exporter handler
// falls back to the default registry.
func MetricsHandler(exporter http.Handler) http.Handler {
	if exporter != nil {
		return exporter
	}
	return promhttp.Handler()
}
