package library

// Defines all the possible output events for a library.
const (
	// ScanCompletedEvent carries the scanner.Result of a finished scan.
	ScanCompletedEvent = "scan completed"

	// SyncStartedEvent is published when a reconciliation run begins.
	SyncStartedEvent = "sync started"

	// SyncCompletedEvent carries the SyncSummary of a finished apply.
	SyncCompletedEvent = "sync completed"

	// ItemUpdatedEvent is published after a single folder was mutated, with
	// its new path as the payload. UI layers use it to refresh one tile
	// instead of rescanning.
	ItemUpdatedEvent = "item updated"

	// ItemRemovedEvent is published after a folder was moved to the trash,
	// with its former path as the payload.
	ItemRemovedEvent = "item removed"
)
