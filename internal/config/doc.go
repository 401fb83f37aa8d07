// Package config handles configuration loading for parley.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion and validated before use.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME} syntax:
//
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//
// Unset variables expand to the empty string and fail validation when the
// field is required.
//
// # Sections
//
//	server:
//	  http_addr: ":8080"
//	database:
//	  path: "/var/lib/parley/parley.db"
//	auth:
//	  jwt_secret: "${PARLEY_JWT_SECRET}"
//	responder:
//	  base_url: "https://api.openai.com/v1"
//	  api_key: "${OPENAI_API_KEY}"
//	  model: "gpt-4o-mini"
//	  system_prompt: ""        # optional, built-in default applies
//	  timeout: "30s"           # time.ParseDuration syntax
//	logging:
//	  level: "info"            # debug, info, warn, error
//	  format: "text"           # text, json
package config
