// Package timeouts defines shared timeout constants used by the history
// service and its commands.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// StoreOperation caps a single storage call issued from an HTTP handler.
const StoreOperation = 3 * time.Second

// FeedWrite caps one live-feed frame write to a websocket peer.
const FeedWrite = 2 * time.Second
