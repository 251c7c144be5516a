// Package config provides configuration management for the TF Connect
// auth service from a YAML file plus environment variable overrides.
//
// # Overview
//
// Deployments ship a YAML file with a tf_connect root block, matching
// the module options the homeserver passes to the auth provider.
// Every option can also be set (or overridden) via a TFCONNECT_*
// environment variable, and everything has a sensible default.
//
// # Configuration Structure
//
// Identity provider and login policy (tf_connect block):
//
//	tf_connect:
//	  api_base_url: "https://login.threefold.me"
//	  app_id: "mycelium-chat"
//	  websocket_url: "wss://login.threefold.me/websocket"
//	  redirect_uri: "https://chat.threefold.pro/auth/callback"
//	  server_name: "example.org"
//	  dev_mode: false
//	  session_timeout: 3600      # seconds
//	  max_login_attempts: 5
//	  rate_limit_window: 300     # seconds
//	  user_cache_ttl: 1800       # seconds
//	  token_cache_ttl: 3600      # seconds
//	  allowed_domains: []        # empty = unrestricted
//
// Service settings (environment only):
//
//	TFCONNECT_HOST="0.0.0.0"
//	TFCONNECT_PORT="8008"
//	TFCONNECT_HEALTH_PORT="9090"
//	TFCONNECT_REDIS_ADDR="localhost:6379"
//	TFCONNECT_POSTGRES_URL="postgres://localhost/synapse"
//	TFCONNECT_LOG_LEVEL="info"
//	TFCONNECT_OTEL_ENABLED="false"
//
// # Usage Example
//
//	cfg, err := config.Load("/config/config.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("IdP: %s\n", cfg.TFConnect.APIBaseURL)
//
// Watch re-loads the file on change so the domain allow-list and rate
// limits can be tightened without a restart.
package config
