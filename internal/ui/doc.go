// Package ui is the Bubble Tea front end of c8yview.
//
// The screen shows one tab per monitored collection. Each tab lists the
// entities of the current cache generation on the left and the selected
// entity's detail on the right; a status line carries the pipeline phase, the
// generation number and the last refresh error. A second screen tails the
// JSON log file.
//
// The model never reads pipelines on its own schedule for content changes:
// it waits on each collection's change channel and re-reads that collection's
// view when signalled. A one-second tick only refreshes phase and age labels
// and follows the log file.
//
// Every action goes through the action router as a tea.Cmd so network work
// never blocks the event loop. Opening an entity suspends the program with
// tea.ExecProcess while $EDITOR runs.
package ui
