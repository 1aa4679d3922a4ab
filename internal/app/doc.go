// Package app is the composition root of c8yview.
//
// New loads the configuration and wires one refresh pipeline per collection
// (EPL applications, alarms, alarm types) to the platform client, the mirror
// writer and the metrics collector. The resulting action router is what both
// the cobra commands and the TUI drive.
//
// Configuration changes flow back through the store's change listeners: a
// toggled enabled flag refreshes exactly the affected collection, in the
// background. Close waits for those refreshes, so a one-shot command can exit
// without cutting one short.
//
// Run starts the interactive session:
//
//  1. Load UI preferences (theme, last collection)
//  2. Watch the config file for external edits
//  3. Serve /metrics when an address is given
//  4. Refresh every collection in the background
//  5. Start the poller when a refresh interval is set
//  6. Start the TUI and block until the user exits or ctx is cancelled
//
// The poller backs off while refreshes fail, doubling the interval per
// consecutive failure up to 30 seconds (or the interval itself when longer).
// A failed refresh never clears what is on screen: each pipeline keeps its last
// good generation and marks itself offline.
package app
