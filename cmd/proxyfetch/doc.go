// Command proxyfetch runs the proxy-rotating fetch service: it restores or
// downloads the proxy list, keeps it healthy in the background, and serves
// fetches over HTTP.
//
// Usage:
//
//	proxyfetch -config config.yaml
//
// Every setting can also be supplied through PROXYFETCH_* environment
// variables, for example PROXYFETCH_SNAPSHOT_BACKEND=postgres.
package main
