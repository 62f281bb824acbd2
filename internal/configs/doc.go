// Package configs loads and saves keyward's user configuration.
//
// The configuration lives in TOML at $XDG_CONFIG_HOME/keyward/config.toml:
//
//	[client]
//	app_id = "keyward"
//	user_id = "alice"
//	origin = "https://app.example.com"
//
//	[store]
//	backend = "file"   # file, sqlite or memory
//	path = ""          # defaults under $XDG_DATA_HOME/keyward
//
//	[http]
//	timeout = "30s"
//
//	[enrollment]
//	url = "https://enroll.example.com/keyspace/ABCD/register"
//
// The client section selects the profile scope (origin, app, user). A missing
// file yields DefaultConfig; unknown keys are rejected.
package configs
