// Package config loads the outbound client registry from a YAML file.
//
// A registry file declares named clients plus a logging block:
//
//	logging:
//	  level: info
//	  format: json
//	clients:
//	  forensics:
//	    base_url: https://forensics.internal
//	    auth:
//	      strategy: api_key
//	      api_key: ${FORENSICS_API_KEY}
//	    rate_limit:
//	      strategy: sliding_window
//	      requests_per_second: 10
//
// Values are layered from the YAML file, an optional .env file and
// process environment variables (OUTBOUND_ prefix). ${VAR} references
// in string values are expanded from the environment, so secrets stay
// out of the file. The loaded registry is validated and can be
// registered in bulk with RegisterAll.
package config
