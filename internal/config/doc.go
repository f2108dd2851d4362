// Package config handles configuration loading for messagingd.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${MESSAGING_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  dedupe_ttl: "5m"
//	websocket:
//	  ping_interval: "30s"
//	  write_timeout: "10s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # Websocket feed and API
//
// Database:
//
//	database:
//	  path: "/var/lib/messaging/messages.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${MESSAGING_JWT_SECRET}"   # Required
//
// Session tuning:
//
//	session:
//	  fetch_limit: 200     # Messages loaded per conversation
//	  dedupe_ttl: "5m"
//	  dedupe_size: 1024
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/etc/messaging/messagingd.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
