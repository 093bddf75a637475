// Package config loads duplex client and dev server settings.
//
// Settings come from duplex.json or duplex.toml, then DUPLEX_* environment
// variables override individual keys. Every field has a default, so a
// missing file is only an error when a path was given explicitly.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "host": "localhost:8080",
//	    "path": "/ws",
//	    "secure": false
//	  },
//	  "reconnect": {
//	    "mode": "reload",
//	    "delay": "5s"
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "text"
//	  },
//	  "eval": {
//	    "allow": false
//	  },
//	  "metrics": {
//	    "addr": ":9090"
//	  }
//	}
//
// The same keys in TOML:
//
//	[server]
//	host = "localhost:8080"
//
//	[reconnect]
//	mode = "resocket"
//	delay = "2s"
//	max_delay = "1m"
//
// # Environment
//
//	DUPLEX_HOST, DUPLEX_PATH, DUPLEX_SECURE, DUPLEX_RECONNECT_DELAY,
//	DUPLEX_RECONNECT_MODE, DUPLEX_LOG_LEVEL, DUPLEX_LOG_FORMAT,
//	DUPLEX_ALLOW_EVAL, DUPLEX_METRICS_ADDR
package config
