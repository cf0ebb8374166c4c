// Package app wires the site hazard service together and manages its
// lifecycle.
//
// New builds, in order: OpenTelemetry providers and metrics, the websocket
// hub, the run store (PostgreSQL when database.url is set, memory
// otherwise), the optional MinIO artifact store, the run queue and the
// services on top of it. Nothing runs until Start, which launches the hub,
// the queue workers, the retention sweep and the HTTP server. Stop shuts
// them down in reverse order.
//
// Router layout:
//
//	/ws          run events (RequestID and RealIP only)
//	/api/v1/...  REST API behind OTel, logging, recovery, CORS and rate limiting
//	/metrics     Prometheus scrape endpoint when metrics are enabled
package app
