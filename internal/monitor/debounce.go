package monitor

import (
	"sort"
	"time"
)

type pendingChange struct {
	lastEvent time.Time
	kind      ChangeKind
}

// debouncer buffers at most one pending change per path and releases it once
// the path has been quiet for the window. It is owned by a single goroutine.
type debouncer struct {
	window         time.Duration
	structuralPath string
	pending        map[string]pendingChange
}

func newDebouncer(window time.Duration, structuralPath string) *debouncer {
	return &debouncer{window: window, structuralPath: structuralPath, pending: make(map[string]pendingChange)}
}

// record stores an event for path. The timestamp always moves to now; a
// pending structural classification is never downgraded to a content one.
func (buffer *debouncer) record(path string, kind ChangeKind, now time.Time) {
	if existing, found := buffer.pending[path]; found && existing.kind == StructureChanged {
		kind = StructureChanged
	}
	buffer.pending[path] = pendingChange{lastEvent: now, kind: kind}
}

// sweep removes and returns every change quiet for at least the window.
// Content changes come out one per path in path order; structural changes
// maturing together collapse into one change for the watched directory.
func (buffer *debouncer) sweep(now time.Time) []Change {
	var contentPaths []string
	var structuralPaths []string
	for path, entry := range buffer.pending {
		if now.Sub(entry.lastEvent) < buffer.window {
			continue
		}
		delete(buffer.pending, path)
		if entry.kind == StructureChanged {
			structuralPaths = append(structuralPaths, path)
		} else {
			contentPaths = append(contentPaths, path)
		}
	}
	if len(contentPaths) == 0 && len(structuralPaths) == 0 {
		return nil
	}

	sort.Strings(contentPaths)
	changes := make([]Change, 0, len(contentPaths)+1)
	for _, path := range contentPaths {
		changes = append(changes, Change{Kind: ContentModified, Path: path, Time: now})
	}
	if len(structuralPaths) > 0 {
		sort.Strings(structuralPaths)
		changes = append(changes, Change{Kind: StructureChanged, Path: buffer.structuralPath, Paths: structuralPaths, Time: now})
	}
	return changes
}

func (buffer *debouncer) reset() {
	clear(buffer.pending)
}

func (buffer *debouncer) size() int {
	return len(buffer.pending)
}
