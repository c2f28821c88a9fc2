package session

import (
	"github.com/temirov/ctxsync/internal/document"
	"github.com/temirov/ctxsync/internal/monitor"
	"github.com/temirov/ctxsync/internal/types"
)

// EventKind identifies what an Event reports.
type EventKind int

const (
	// ScanCompleted reports a finished scan; Tree is set on success.
	ScanCompleted EventKind = iota
	// GenerateCompleted reports a full document write; Summary is set on success.
	GenerateCompleted
	// SectionPatched reports an in-place update of one file's section.
	SectionPatched
	// ChangeDetected reports a debounced filesystem change.
	ChangeDetected
	// WatchFailed reports that monitoring stopped because of a watcher error.
	WatchFailed
)

// String returns a readable name for the kind.
func (kind EventKind) String() string {
	switch kind {
	case ScanCompleted:
		return "scan-completed"
	case GenerateCompleted:
		return "generate-completed"
	case SectionPatched:
		return "section-patched"
	case ChangeDetected:
		return "change-detected"
	default:
		return "watch-failed"
	}
}

// Event is an asynchronous completion or change notification. Err is set
// when the reported operation failed.
type Event struct {
	Kind    EventKind
	Path    string
	Tree    *types.TreeNode
	Summary document.Summary
	Change  monitor.Change
	Err     error
}
