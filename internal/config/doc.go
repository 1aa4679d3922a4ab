// Package config handles the c8yview configuration file.
//
// # Overview
//
// The configuration is a TOML file read through viper. It names the Cumulocity
// tenant, the credentials and one enabled toggle per monitored collection, plus
// the mirror workspace and a few UI/logging settings.
//
// # Configuration Discovery
//
//  1. If a path is explicitly provided (--config), use it
//  2. Otherwise, use ~/.config/c8yview/config.toml
//  3. If the file doesn't exist, fall back to defaults
//
// Missing config files are NOT an error; the first toggle creates the file.
//
// # TOML Format
//
//	[c8y]                       # EPL applications, shared credentials
//	url = "https://tenant.example.com/"
//	user = "me"
//	password = "secret"
//	enabled = true
//
//	[c8y_alarms]                # url/user/password fall back to [c8y]
//	enabled = true
//
//	[c8y_alarm_types]
//	enabled = false
//
//	[mirror]
//	workspace = "~/projects/apama"   # default: current directory
//	prune = false
//
//	[ui]
//	refresh_interval = "30s"         # 0 disables periodic refresh
//
//	[log]
//	path = "~/.local/state/c8yview/c8yview.log"
//	level = "info"
//
// # Snapshots
//
// Store.Snapshot returns an immutable Snapshot. The refresh pipeline reads one
// snapshot at the start of a cycle and passes it down, so credentials never
// change halfway through a cycle.
//
// # Change Events
//
// Every effective change, whether from ToggleEnabled or from an external edit
// picked up by Watch (fsnotify on the config directory), is delivered to
// OnChange listeners as a Change listing the keys whose values differ.
// Writes that leave all values equal produce no event, so the store's own
// write echoing back through the watcher is silent.
//
//	store.OnChange(func(c config.Change) {
//		if c.Affects(config.EnabledKey(config.NamespaceAlarms)) {
//			go alarms.Refresh(ctx)
//		}
//	})
package config
