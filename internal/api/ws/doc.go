// Package ws streams kernel snapshots to WebSocket clients.
package ws
