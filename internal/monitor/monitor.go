// Package monitor turns raw filesystem notifications into debounced,
// classified change events.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/temirov/ctxsync/internal/types"
	"github.com/temirov/ctxsync/internal/utils"
)

const (
	// DefaultDebounce is how long a path must stay quiet before its change is emitted.
	DefaultDebounce = 750 * time.Millisecond
	// DefaultTick is the interval between sweeps of the pending buffer.
	DefaultTick = 100 * time.Millisecond
	// DefaultBuffer is the capacity of the events channel.
	DefaultBuffer = 64

	operationStartWatch = "start watch"
	operationWatch      = "watch"

	errorNotDirectoryFormat = "%s is not a directory"
	errorNoFiles            = "no files to watch"

	debugWatchStarted       = "watch started"
	debugWatchStopped       = "watch stopped"
	debugWatchAddFailed     = "unable to watch new directory"
	debugWatcherCloseFailed = "closing watcher failed"
	warningWatchWalkSkipped = "skipping unreadable directory while registering watches"
	warningWatcherFailed    = "filesystem watcher failed"
)

// ChangeKind classifies an emitted change.
type ChangeKind int

const (
	// ContentModified reports that one file's content changed.
	ContentModified ChangeKind = iota
	// StructureChanged reports that entries were created, removed or renamed.
	StructureChanged
	// WatchFailed reports that the OS watcher failed; monitoring has ended.
	WatchFailed
)

// String returns a readable name for the kind.
func (kind ChangeKind) String() string {
	switch kind {
	case ContentModified:
		return "content-modified"
	case StructureChanged:
		return "structure-changed"
	default:
		return "watch-failed"
	}
}

// Change is one debounced notification. ContentModified carries the file in
// Path. StructureChanged carries the watched directory in Path and the
// affected entries in Paths. WatchFailed carries the cause in Err.
type Change struct {
	Kind  ChangeKind
	Path  string
	Paths []string
	Time  time.Time
	Err   error
}

// Options tunes a Monitor. Zero values select the defaults.
type Options struct {
	Debounce time.Duration
	Tick     time.Duration
	Buffer   int
	// Ignore drops events for matching paths in directory mode and keeps
	// watches off matching directories.
	Ignore func(path string, isDirectory bool) bool
}

func (options Options) withDefaults() Options {
	if options.Debounce <= 0 {
		options.Debounce = DefaultDebounce
	}
	if options.Tick <= 0 {
		options.Tick = DefaultTick
	}
	if options.Buffer <= 0 {
		options.Buffer = DefaultBuffer
	}
	if options.Ignore == nil {
		options.Ignore = func(string, bool) bool { return false }
	}
	return options
}

// Monitor watches one target at a time. Start and Stop may be called from
// any goroutine; changes are delivered in order on Events.
type Monitor struct {
	options Options
	logger  *zap.Logger
	events  chan Change

	mutex  sync.Mutex
	active *watchSession
}

type watchSession struct {
	watcher            *fsnotify.Watcher
	target             WatchTarget
	watchedDirectories map[string]struct{}
	targetFiles        map[string]struct{}
	stop               chan struct{}
	done               chan struct{}
	stopOnce           sync.Once
}

// NewMonitor returns an idle Monitor.
func NewMonitor(options Options, logger *zap.Logger) *Monitor {
	options = options.withDefaults()
	return &Monitor{
		options: options,
		logger:  utils.LoggerOrNop(logger),
		events:  make(chan Change, options.Buffer),
	}
}

// Events returns the channel carrying debounced changes. It is never closed.
func (monitor *Monitor) Events() <-chan Change {
	return monitor.events
}

// Active reports whether a watch session is running.
func (monitor *Monitor) Active() bool {
	monitor.mutex.Lock()
	defer monitor.mutex.Unlock()
	if monitor.active == nil {
		return false
	}
	select {
	case <-monitor.active.done:
		return false
	default:
		return true
	}
}

// Start stops any running session and begins watching target. On failure
// the error unwraps to types.ErrWatchRegistration and the monitor is idle.
// The session ends on Stop, on a watcher failure or when ctx is done.
func (monitor *Monitor) Start(ctx context.Context, target WatchTarget) error {
	monitor.mutex.Lock()
	defer monitor.mutex.Unlock()
	monitor.stopLocked()

	session, registrationError := monitor.register(target)
	if registrationError != nil {
		return registrationError
	}
	monitor.active = session
	go monitor.run(ctx, session)
	monitor.logger.Debug(debugWatchStarted, zap.String("mode", target.Mode.String()), zap.Int("directories", len(session.watchedDirectories)))
	return nil
}

// Stop ends the running session and returns once its goroutine has exited
// and the OS watch is released. Pending changes are discarded. Stopping an
// idle monitor does nothing.
func (monitor *Monitor) Stop() {
	monitor.mutex.Lock()
	defer monitor.mutex.Unlock()
	monitor.stopLocked()
}

func (monitor *Monitor) stopLocked() {
	session := monitor.active
	if session == nil {
		return
	}
	monitor.active = nil
	session.stopOnce.Do(func() { close(session.stop) })
	if closeError := session.watcher.Close(); closeError != nil {
		monitor.logger.Debug(debugWatcherCloseFailed, zap.Error(closeError))
	}
	<-session.done
	monitor.drain()
	monitor.logger.Debug(debugWatchStopped)
}

// drain discards changes a finished session left in the channel.
func (monitor *Monitor) drain() {
	for {
		select {
		case <-monitor.events:
		default:
			return
		}
	}
}

func (monitor *Monitor) register(target WatchTarget) (*watchSession, error) {
	watcher, watcherError := fsnotify.NewWatcher()
	if watcherError != nil {
		return nil, types.NewOperationError(operationStartWatch, target.Directory, types.ErrWatchRegistration, watcherError)
	}
	session := &watchSession{
		watcher:            watcher,
		target:             target,
		watchedDirectories: make(map[string]struct{}),
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}

	var registrationError error
	switch target.Mode {
	case ModeFiles:
		registrationError = monitor.registerFiles(session)
	default:
		registrationError = monitor.registerDirectory(session, target.Directory)
	}
	if registrationError != nil {
		_ = watcher.Close()
		return nil, registrationError
	}
	return session, nil
}

func (monitor *Monitor) registerFiles(session *watchSession) error {
	if len(session.target.Files) == 0 {
		return types.NewOperationError(operationStartWatch, "", types.ErrWatchRegistration, errors.New(errorNoFiles))
	}
	session.targetFiles = make(map[string]struct{}, len(session.target.Files))
	cleanedFiles := make([]string, 0, len(session.target.Files))
	for _, filePath := range session.target.Files {
		absolutePath, absoluteError := filepath.Abs(filePath)
		if absoluteError != nil {
			return types.NewOperationError(operationStartWatch, filePath, types.ErrWatchRegistration, absoluteError)
		}
		session.targetFiles[absolutePath] = struct{}{}
		cleanedFiles = append(cleanedFiles, absolutePath)
	}
	for _, parent := range parentDirectories(cleanedFiles) {
		if addError := session.watcher.Add(parent); addError != nil {
			return types.NewOperationError(operationStartWatch, parent, types.ErrWatchRegistration, addError)
		}
		session.watchedDirectories[parent] = struct{}{}
	}
	return nil
}

func (monitor *Monitor) registerDirectory(session *watchSession, directoryPath string) error {
	absolutePath, absoluteError := filepath.Abs(directoryPath)
	if absoluteError != nil {
		return types.NewOperationError(operationStartWatch, directoryPath, types.ErrWatchRegistration, absoluteError)
	}
	info, statError := os.Stat(absolutePath)
	if statError != nil {
		return types.NewOperationError(operationStartWatch, absolutePath, types.ErrWatchRegistration, statError)
	}
	if !info.IsDir() {
		return types.NewOperationError(operationStartWatch, absolutePath, types.ErrWatchRegistration, fmt.Errorf(errorNotDirectoryFormat, absolutePath))
	}
	session.target.Directory = absolutePath
	return monitor.addRecursive(session, absolutePath, true)
}

// addRecursive watches directoryPath and every non-ignored directory below it.
// Only a failure on the starting directory, or a failed watch registration,
// is returned; unreadable subdirectories are logged and skipped.
func (monitor *Monitor) addRecursive(session *watchSession, directoryPath string, strict bool) error {
	return filepath.WalkDir(directoryPath, func(path string, entry fs.DirEntry, walkError error) error {
		if walkError != nil {
			if path == directoryPath && strict {
				return types.NewOperationError(operationStartWatch, path, types.ErrWatchRegistration, walkError)
			}
			monitor.logger.Warn(warningWatchWalkSkipped, zap.String("path", path), zap.Error(walkError))
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path != session.target.Directory && monitor.options.Ignore(path, true) {
			return filepath.SkipDir
		}
		if addError := session.watcher.Add(path); addError != nil {
			if strict {
				return types.NewOperationError(operationStartWatch, path, types.ErrWatchRegistration, addError)
			}
			monitor.logger.Debug(debugWatchAddFailed, zap.String("path", path), zap.Error(addError))
			return filepath.SkipDir
		}
		session.watchedDirectories[path] = struct{}{}
		return nil
	})
}

// run is the debounce loop. It owns the pending buffer and the session's
// bookkeeping maps; nothing else touches them while it runs.
func (monitor *Monitor) run(ctx context.Context, session *watchSession) {
	defer close(session.done)

	structuralPath := session.target.Directory
	if session.target.Mode == ModeFiles {
		parents := make([]string, 0, len(session.watchedDirectories))
		for parent := range session.watchedDirectories {
			parents = append(parents, parent)
		}
		structuralPath = commonDirectory(parents)
	}
	buffer := newDebouncer(monitor.options.Debounce, structuralPath)
	ticker := time.NewTicker(monitor.options.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-session.stop:
			buffer.reset()
			return
		case <-ctx.Done():
			buffer.reset()
			_ = session.watcher.Close()
			return
		case event, open := <-session.watcher.Events:
			if !open {
				return
			}
			monitor.handle(session, buffer, event, time.Now())
		case watchError, open := <-session.watcher.Errors:
			if !open {
				return
			}
			monitor.logger.Warn(warningWatcherFailed, zap.Error(watchError))
			buffer.reset()
			_ = session.watcher.Close()
			failure := types.NewOperationError(operationWatch, structuralPath, types.ErrWatchRegistration, watchError)
			monitor.emit(ctx, session, Change{Kind: WatchFailed, Path: structuralPath, Time: time.Now(), Err: failure})
			return
		case now := <-ticker.C:
			for _, change := range buffer.sweep(now) {
				if !monitor.emit(ctx, session, change) {
					return
				}
			}
		}
	}
}

// emit delivers a change unless the session is ending first.
func (monitor *Monitor) emit(ctx context.Context, session *watchSession, change Change) bool {
	select {
	case monitor.events <- change:
		return true
	case <-session.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func (monitor *Monitor) handle(session *watchSession, buffer *debouncer, event fsnotify.Event, now time.Time) {
	kind, relevant := classify(event.Op)
	if !relevant {
		return
	}
	path := filepath.Clean(event.Name)

	if session.target.Mode == ModeFiles {
		if _, watched := session.targetFiles[path]; !watched {
			return
		}
		buffer.record(path, kind, now)
		return
	}

	isDirectory := false
	if info, statError := os.Lstat(path); statError == nil {
		isDirectory = info.IsDir()
	} else if _, known := session.watchedDirectories[path]; known {
		isDirectory = true
		delete(session.watchedDirectories, path)
	}
	if monitor.options.Ignore(path, isDirectory) {
		return
	}
	if event.Has(fsnotify.Create) && isDirectory {
		_ = monitor.addRecursive(session, path, false)
	}
	if isDirectory && kind == ContentModified {
		return
	}
	buffer.record(path, kind, now)
}

// classify maps a raw operation to a change kind. Permission changes carry
// no content or structure change and are dropped.
func classify(operation fsnotify.Op) (ChangeKind, bool) {
	switch {
	case operation.Has(fsnotify.Create), operation.Has(fsnotify.Remove), operation.Has(fsnotify.Rename):
		return StructureChanged, true
	case operation.Has(fsnotify.Write):
		return ContentModified, true
	default:
		return ContentModified, false
	}
}
