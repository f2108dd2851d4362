// Package server wires the messagingd components together and runs the
// HTTP server carrying the websocket feed and health endpoints.
package server
