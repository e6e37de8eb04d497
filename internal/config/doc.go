// Package config handles configuration loading for helpdesk-gateway.
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
//	matrix:
//	  access_token: "${HELPDESK_MATRIX_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	backend:
//	  sync_timeout: "120s"
//	  webhook_timeout: "10s"
//	retention:
//	  sweep_interval: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "/var/lib/helpdesk/threads.db"
//	  requests_path: "/var/lib/helpdesk/requests.db"  # defaults next to path
//
// Matrix connection and channel topology:
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@helpdesk:example.org"
//	  access_token: "${HELPDESK_MATRIX_TOKEN}"
//	  allowed_channels: ["!suporte:example.org"]
//	  reply_channel: "!replies:example.org"
//	  support_channel: "!equipe:example.org"
//	  bot_users: ["@workflow-relay:example.org"]
//
// Answer backend. Exactly one strategy runs per process; when several
// endpoints are configured a synchronous one wins:
//
//	backend:
//	  orchestrator_url: "http://localhost:8080"  # synchronous HTTP
//	  mcp_url: ""                                # synchronous MCP
//	  webhook_url: ""                            # asynchronous workflow
//	  moderation_url: ""                         # optional pre-check
//	  sync_timeout: "120s"
//	  webhook_timeout: "10s"
//	  history_exchanges: 2
//
// Retention sweep:
//
//	retention:
//	  sweep_interval: "24h"
//	  days: 30
//	  statuses: ["closed"]   # or ["ALL"]
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/helpdesk/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
