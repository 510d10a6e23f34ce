// Package config provides the configuration of the settings engine.
//
// Configuration is built in layers, later layers overriding earlier ones:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← MORPHIC_*
//	├─────────────────────────────┤
//	│  2. Config File             │  ← <user config dir>/morphic/config.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// # Sections
//
//   - paths: solution definitions, bar files and the snapshot directory
//   - logging: level, format and optional log file
//   - watch: debounce window for file sources and the poll interval
//   - remote: the preference server, community and credentials
//
// # Environment
//
// Each field has an environment variable named after its section and key,
// for example MORPHIC_LOG_LEVEL or MORPHIC_REMOTE_BASE_URL. Durations use
// Go syntax ("500ms", "2s").
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    return err
//	}
//	reg, err := settings.LoadFile(cfg.Paths.Solutions, deps)
package config
