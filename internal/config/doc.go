// Package config loads and validates the mcp-hub YAML configuration.
//
// Values support ${VAR} environment expansion, so secrets can stay out
// of the file:
//
//	server:
//	  http_addr: ":8765"
//	database:
//	  path: "data/hub.db"
//	cache:
//	  driver: "redis"
//	  redis_url: "${REDIS_URL}"
//	auth:
//	  jwt_secret: "${HUB_JWT_SECRET}"
//
// Load applies defaults, expands the environment, parses durations and
// validates the result in one call.
package config
