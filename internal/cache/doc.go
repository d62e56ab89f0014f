/*
Package cache implements the versioned asset cache.

# Overview

Each deployment carries an opaque generation token; the cache for one
generation lives in its own directory under a shared root. During activation
EvictStaleGenerations removes every other generation, so after activation
exactly one generation exists on disk.

Assets are keyed by the full request URL including the query string. Bodies
are zstd-compressed with a JSON sidecar for status and headers; writes are
atomic per key and last-writer-wins.

Store refuses non-2xx and opaque responses. Lookup never mutates.
*/
package cache
