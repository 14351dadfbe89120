// Package server implements the real-time core of chatline: the presence
// registry and broadcaster (Hub), per-connection writer loops (Connection),
// message fanout (Hub.Deliver), and the thin HTTP API that feeds it.
//
// The implementation is organized into specialized files for configuration, hub
// management, connections, routing, and HTTP handlers.
package server
