// Package main is the entry point for the gestore offline gateway.
//
// The gateway fronts the application origin and keeps it usable offline:
// it intercepts all app-bound traffic, applies per-request caching
// strategies, accepts OS share-sheet image posts on the share-target
// endpoint, and coordinates version updates with connected windows.
//
// Architecture:
//
//	Browser/OS → Gateway → Upstream app server
//	                     → Disk asset cache (one generation)
//	                     → SQLite offline queue
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional TOML file via -config or GATEWAY_CONFIG_FILE
//
// Usage:
//
//	./gateway -config /etc/gestore/gateway.toml
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown; pending cache writes and share
//     ingests drain before exit
package main
