package ui

// Unicode symbols for status indicators.
const (
	SymbolSuccess = "✓" // Command succeeded
	SymbolFail    = "✗" // Command failed or did not start
	SymbolPending = "○" // Not armed / never ran
	SymbolArmed   = "◐" // Timer armed
	SymbolSkipped = "⊘" // Skipped after cancellation
	SymbolWarning = "⚠"
)
