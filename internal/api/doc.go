// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for breaker, pool, and limiter state.
//   - POST /v1/fetch to retrieve a URL through the proxy pool.
//   - POST /v1/admin/proxies/refresh and /sweep to run background jobs on demand.
package api
