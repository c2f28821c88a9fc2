// Package session wires scanning, selection, monitoring and document
// generation for one open directory.
package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/ctxsync/internal/config"
	"github.com/temirov/ctxsync/internal/document"
	"github.com/temirov/ctxsync/internal/monitor"
	"github.com/temirov/ctxsync/internal/scanner"
	"github.com/temirov/ctxsync/internal/selection"
	"github.com/temirov/ctxsync/internal/types"
	"github.com/temirov/ctxsync/internal/utils"
)

var (
	// ErrClosed is returned by calls made after the session stopped running.
	ErrClosed = errors.New("session closed")
	// ErrNoDirectory is returned by calls that need a scanned directory.
	ErrNoDirectory = errors.New("no directory open")
	// ErrEmptySelection is returned when watching would cover no files.
	ErrEmptySelection = errors.New("no files selected")
)

const (
	operationSelect     = "select"
	operationStartWatch = "start watch"

	debugEventPublished   = "session event"
	debugStaleScanDropped = "dropping result of superseded scan"
	warningRestartWatch   = "unable to restart watch after selection change"
)

// Options configures a Session.
type Options struct {
	IgnorePatterns []string
	Ignore         config.IgnoreOptions
	WatchMode      monitor.Mode
	Monitor        monitor.Options
}

// Session owns the state of one open directory. Every state change happens
// on the goroutine running Run; the other methods hand work to it and may be
// called from any goroutine.
type Session struct {
	options  Options
	logger   *zap.Logger
	scanner  *scanner.Scanner
	monitor  *monitor.Monitor
	commands chan command
	results  chan taskResult
	events   chan Event
	done     chan struct{}

	// ignoreRules is written by the Run goroutine and read by the monitor.
	ignoreRules atomic.Pointer[config.IgnoreRules]

	// Owned by the Run goroutine.
	state sessionState
}

type sessionState struct {
	root        string
	tree        *types.TreeNode
	model       *selection.Model
	format      document.Format
	destination string
	generation  int
	watching    bool
	closing     bool
	pending     []Event
	jobs        []documentJob
	group       *errgroup.Group
}

type command struct {
	apply func(context.Context) error
	reply chan error
}

type taskResult struct {
	kind       EventKind
	generation int
	path       string
	tree       *types.TreeNode
	rules      *config.IgnoreRules
	summary    document.Summary
	regenerate bool
	err        error
}

// New returns a Session. Call Run to start processing.
func New(options Options, logger *zap.Logger) *Session {
	logger = utils.LoggerOrNop(logger)
	session := &Session{
		options:  options,
		logger:   logger,
		scanner:  scanner.NewScanner(options.Ignore, logger),
		commands: make(chan command),
		results:  make(chan taskResult),
		events:   make(chan Event),
		done:     make(chan struct{}),
		state:    sessionState{model: selection.NewModel()},
	}
	monitorOptions := options.Monitor
	monitorOptions.Ignore = session.ignoreChange
	session.monitor = monitor.NewMonitor(monitorOptions, logger)
	return session
}

// Events delivers completion and change notifications in order. Events are
// queued internally, so a slow reader never blocks the session.
func (session *Session) Events() <-chan Event {
	return session.events
}

// Done is closed once Run has returned.
func (session *Session) Done() <-chan struct{} {
	return session.done
}

// Run processes commands, task results and filesystem changes until ctx is
// done or Close is called. It stops any watch and waits for background work
// before returning.
func (session *Session) Run(ctx context.Context) error {
	defer close(session.done)
	runContext, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupContext := errgroup.WithContext(runContext)
	session.state.group = group
	jobs := make(chan documentJob)
	group.Go(func() error {
		session.documentWorker(groupContext, jobs)
		return nil
	})

	loopError := session.loop(groupContext, jobs)
	session.monitor.Stop()
	cancel()
	if waitError := group.Wait(); waitError != nil && loopError == nil {
		loopError = waitError
	}
	if errors.Is(loopError, context.Canceled) {
		return nil
	}
	return loopError
}

func (session *Session) loop(ctx context.Context, jobs chan<- documentJob) error {
	state := &session.state
	for !state.closing {
		var outboundEvents chan<- Event
		var nextEvent Event
		if len(state.pending) > 0 {
			outboundEvents = session.events
			nextEvent = state.pending[0]
		}
		var outboundJobs chan<- documentJob
		var nextJob documentJob
		if len(state.jobs) > 0 {
			outboundJobs = jobs
			nextJob = state.jobs[0]
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case request := <-session.commands:
			request.reply <- request.apply(ctx)
		case result := <-session.results:
			session.handleResult(ctx, result)
		case change := <-session.monitor.Events():
			session.handleChange(ctx, change)
		case outboundEvents <- nextEvent:
			state.pending = state.pending[1:]
		case outboundJobs <- nextJob:
			state.jobs = state.jobs[1:]
		}
	}
	return nil
}

// submit runs apply on the Run goroutine and returns its error.
func (session *Session) submit(ctx context.Context, apply func(context.Context) error) error {
	reply := make(chan error, 1)
	select {
	case session.commands <- command{apply: apply, reply: reply}:
	case <-session.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-session.done:
		return ErrClosed
	}
}

// Open stops any watch, forgets the previous directory and selection, and
// scans directoryPath in the background. An invalid directory is reported
// immediately; the scan result arrives as a ScanCompleted event.
func (session *Session) Open(ctx context.Context, directoryPath string) error {
	return session.submit(ctx, func(runContext context.Context) error {
		canonicalRoot, rootError := scanner.CanonicalDirectory(directoryPath)
		if rootError != nil {
			return rootError
		}
		session.stopWatch()
		session.state.root = canonicalRoot
		session.ignoreRules.Store(nil)
		session.state.tree = nil
		session.state.model = selection.NewModel()
		session.state.destination = ""
		session.state.jobs = nil
		session.startScan(runContext, false)
		return nil
	})
}

// Toggle flips the selection of the node at path and regenerates the
// document when one has been generated.
func (session *Session) Toggle(ctx context.Context, path string) error {
	return session.submit(ctx, func(runContext context.Context) error {
		if session.state.tree == nil {
			return ErrNoDirectory
		}
		identifier, found := session.state.model.Lookup(session.resolve(path))
		if !found {
			return types.NewOperationError(operationSelect, path, types.ErrPathNotFound, nil)
		}
		if toggleError := session.state.model.Toggle(identifier); toggleError != nil {
			return toggleError
		}
		session.selectionChanged(runContext)
		return nil
	})
}

// Select replaces the selection with paths. Relative paths are resolved
// against the open directory and directories select their subtree. Nothing
// changes when any path is unknown.
func (session *Session) Select(ctx context.Context, paths []string) error {
	return session.submit(ctx, func(runContext context.Context) error {
		if session.state.tree == nil {
			return ErrNoDirectory
		}
		resolved := make([]string, 0, len(paths))
		for _, path := range paths {
			candidate := session.resolve(path)
			if _, found := session.state.model.Lookup(candidate); !found {
				return types.NewOperationError(operationSelect, path, types.ErrPathNotFound, nil)
			}
			resolved = append(resolved, candidate)
		}
		session.state.model.SetSelectedFiles(resolved)
		session.selectionChanged(runContext)
		return nil
	})
}

// SelectedFiles returns the selected file paths in order.
func (session *Session) SelectedFiles(ctx context.Context) ([]string, error) {
	var selected []string
	submitError := session.submit(ctx, func(context.Context) error {
		selected = session.state.model.SelectedFiles()
		return nil
	})
	return selected, submitError
}

// Generate writes the full document in the background and keeps destination
// and format for later patches. An empty destination selects the default
// file name inside the open directory.
func (session *Session) Generate(ctx context.Context, format document.Format, destination string) error {
	return session.submit(ctx, func(context.Context) error {
		if session.state.tree == nil {
			return ErrNoDirectory
		}
		if destination == "" {
			destination = format.DefaultFileName()
		}
		session.state.format = format
		session.state.destination = session.resolve(destination)
		session.enqueueGenerate()
		return nil
	})
}

// StartWatch begins monitoring according to the configured mode. Watching
// requires at least one selected file.
func (session *Session) StartWatch(ctx context.Context) error {
	return session.submit(ctx, func(runContext context.Context) error {
		return session.startWatch(runContext)
	})
}

// StopWatch ends monitoring. It is a no-op when not watching.
func (session *Session) StopWatch(ctx context.Context) error {
	return session.submit(ctx, func(context.Context) error {
		session.stopWatch()
		return nil
	})
}

// Close makes Run return after stopping any watch.
func (session *Session) Close(ctx context.Context) error {
	submitError := session.submit(ctx, func(context.Context) error {
		session.state.closing = true
		return nil
	})
	if errors.Is(submitError, ErrClosed) {
		return nil
	}
	return submitError
}

func (session *Session) startWatch(runContext context.Context) error {
	state := &session.state
	if state.tree == nil {
		return ErrNoDirectory
	}
	if !state.model.HasSelection() {
		return types.NewOperationError(operationStartWatch, state.root, types.ErrWatchRegistration, ErrEmptySelection)
	}
	target := monitor.DirectoryTarget(state.root)
	if session.options.WatchMode == monitor.ModeFiles {
		target = monitor.FilesTarget(state.model.SelectedFiles())
	}
	if startError := session.monitor.Start(runContext, target); startError != nil {
		state.watching = false
		return startError
	}
	state.watching = true
	return nil
}

func (session *Session) stopWatch() {
	session.monitor.Stop()
	session.state.watching = false
}

// selectionChanged regenerates the document and retargets a files-mode watch.
func (session *Session) selectionChanged(runContext context.Context) {
	state := &session.state
	if state.destination != "" {
		session.enqueueGenerate()
	}
	if !state.watching || session.options.WatchMode != monitor.ModeFiles {
		return
	}
	if !state.model.HasSelection() {
		session.stopWatch()
		return
	}
	if restartError := session.startWatch(runContext); restartError != nil {
		session.logger.Warn(warningRestartWatch, zap.Error(restartError))
		session.publish(Event{Kind: WatchFailed, Path: state.root, Err: restartError})
	}
}

func (session *Session) startScan(runContext context.Context, regenerate bool) {
	state := &session.state
	state.generation++
	generation := state.generation
	root := state.root
	state.group.Go(func() error {
		result := taskResult{kind: ScanCompleted, generation: generation, path: root, regenerate: regenerate}
		result.tree, result.rules, result.err = session.scanner.ScanWithRules(root, session.options.IgnorePatterns)
		session.deliver(runContext, result)
		return nil
	})
}

func (session *Session) deliver(runContext context.Context, result taskResult) {
	select {
	case session.results <- result:
	case <-runContext.Done():
	}
}

func (session *Session) handleResult(runContext context.Context, result taskResult) {
	state := &session.state
	if result.kind != ScanCompleted {
		session.publish(Event{Kind: result.kind, Path: result.path, Summary: result.summary, Err: result.err})
		return
	}
	if result.generation != state.generation {
		session.logger.Debug(debugStaleScanDropped, zap.String("path", result.path))
		return
	}
	if result.err != nil {
		session.publish(Event{Kind: ScanCompleted, Path: result.path, Err: result.err})
		return
	}
	state.tree = result.tree
	session.ignoreRules.Store(result.rules)
	state.model.Build(result.tree)
	session.publish(Event{Kind: ScanCompleted, Path: result.path, Tree: result.tree})
	if result.regenerate {
		session.selectionChanged(runContext)
	}
}

func (session *Session) handleChange(runContext context.Context, change monitor.Change) {
	state := &session.state
	if change.Kind == monitor.WatchFailed {
		state.watching = false
		session.publish(Event{Kind: WatchFailed, Path: change.Path, Change: change, Err: change.Err})
		return
	}
	if change.Kind == monitor.ContentModified && session.isOwnOutput(change.Path) {
		return
	}
	if change.Kind == monitor.StructureChanged {
		relevant := change.Paths[:0:0]
		for _, path := range change.Paths {
			if !session.isOwnOutput(path) {
				relevant = append(relevant, path)
			}
		}
		if len(relevant) == 0 {
			return
		}
		change.Paths = relevant
	}

	session.publish(Event{Kind: ChangeDetected, Path: change.Path, Change: change})
	switch change.Kind {
	case monitor.ContentModified:
		if state.destination == "" || !session.isSelectedFile(change.Path) {
			return
		}
		session.enqueuePatch(change.Path)
	case monitor.StructureChanged:
		session.startScan(runContext, true)
	}
}

// ignoreChange filters raw events for the monitor. It runs on the monitor
// goroutine and only reads the published, immutable ignore rules.
func (session *Session) ignoreChange(path string, isDirectory bool) bool {
	if document.IsTemporaryFile(path) {
		return true
	}
	rules := session.ignoreRules.Load()
	if rules == nil {
		return false
	}
	return rules.MatchPath(path, isDirectory)
}

func (session *Session) isOwnOutput(path string) bool {
	return path == session.state.destination || document.IsTemporaryFile(path)
}

func (session *Session) isSelectedFile(path string) bool {
	identifier, found := session.state.model.Lookup(path)
	if !found {
		return false
	}
	described, describeError := session.state.model.Describe(identifier)
	return describeError == nil && !described.IsDirectory && described.State == types.Selected
}

func (session *Session) resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(session.state.root, path)
}

func (session *Session) publish(event Event) {
	session.logger.Debug(debugEventPublished, zap.String("kind", event.Kind.String()), zap.String("path", event.Path), zap.Error(event.Err))
	session.state.pending = append(session.state.pending, event)
}
