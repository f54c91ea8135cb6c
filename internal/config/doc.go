// Package config handles configuration loading for familiar-agent.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation, bounds enforcement, and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from FAMILIAR_CONFIG environment variable
//  2. ./familiar.yaml (current directory)
//  3. ~/.config/familiar/agent.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	provider:
//	  api_key: "${FAMILIAR_PROVIDER_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agent:
//	  poll_interval: "60s"
//	  task_timeout: "10m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Engine scheduling:
//
//	agent:
//	  name: "familiar-dev"
//	  poll_interval: "60s"        # bounded 10s..300s
//	  max_concurrent_tasks: 2     # bounded 1..10
//	  task_timeout: "10m"
//
// Remote queue:
//
//	queue:
//	  base_url: "https://queue.example.com"
//	  token_path: "~/.local/share/familiar/token"
//
// Capability provider:
//
//	provider:
//	  base_url: "https://api.example.com/v1"
//	  api_key: "${FAMILIAR_PROVIDER_KEY}"
//	  model: "gpt-4o-mini"
//	  request_timeout: "5m"
//
// Device identity and capacity:
//
//	device:
//	  name: "workbench"
//	  root_path: "/var/lib/familiar/workspaces"
//	  max_concurrent_workspaces: 3
//	  max_disk_usage_bytes: 10737418240
//	  heartbeat_interval: "30s"
//
// Workspace teardown:
//
//	workspace:
//	  clone_timeout: "5m"
//	  archive_dir: ""              # default <root_path>/archives
//	  mirror:
//	    enabled: false
//	    endpoint: "minio.example.com:9000"
//	    bucket: "familiar-archives"
//
// Local state database:
//
//	database:
//	  path: "/var/lib/familiar/agent.db"
//
// Status server:
//
//	status:
//	  addr: "127.0.0.1:7313"
//	  tailscale:
//	    enabled: false
//	    hostname: "familiar-status"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Poll interval within 10s..300s
//   - Max concurrent tasks within 1..10
//   - Required fields (agent name, queue URL, device root, database path)
//   - Duration format validity
package config
