// Package config loads the relaydesk YAML configuration.
//
// Values support ${VAR} environment expansion, duration fields are plain
// strings ("30s", "12h") parsed at load time, and Load validates required
// fields before returning. Sections: server, database, auth, bot, delivery,
// logging.
package config
