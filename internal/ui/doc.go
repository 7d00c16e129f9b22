// Package ui renders backy's terminal output.
//
// Run results, command and host tables, and the interactive pickers used
// when exec or run is called without arguments on a terminal all live here.
// Styling goes through Lip Gloss with ANSI colors so output degrades cleanly
// on basic terminals. Use DisableColors for --no-color.
package ui
