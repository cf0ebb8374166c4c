// Package http implements the HTTP handlers of the site hazard service.
// Handlers stay thin: they decode and validate requests, call the
// convolution and health services, and render JSON or RFC 7807 problems.
//
// # Routes
//
// Mounted under /api/v1 by the application router:
//
//	POST   /runs              submit a convolution run (202 Accepted)
//	GET    /runs              list runs (status, site_id, limit)
//	GET    /runs/{id}         run status, ?curves=true adds the curves
//	DELETE /runs/{id}         cancel a pending or running run
//	POST   /runs/{id}/cancel  same as DELETE
//	POST   /models/fit        fit one amplification model synchronously
//	GET    /health            dependency checks
//	GET    /version           build information
//
// Each handler exposes Routes() returning a chi.Router so the application
// can mount it wherever it likes.
package http
