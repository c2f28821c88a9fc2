package session_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/temirov/ctxsync/internal/config"
	"github.com/temirov/ctxsync/internal/document"
	"github.com/temirov/ctxsync/internal/monitor"
	"github.com/temirov/ctxsync/internal/session"
	"github.com/temirov/ctxsync/internal/types"
)

const eventTimeout = 5 * time.Second

type harness struct {
	testingHandle *testing.T
	root          string
	session       *session.Session
}

func newHarness(testingHandle *testing.T, mode monitor.Mode) *harness {
	testingHandle.Helper()
	testingHandle.Setenv("HOME", testingHandle.TempDir())
	root, err := filepath.EvalSymlinks(testingHandle.TempDir())
	if err != nil {
		testingHandle.Fatalf("resolve temp dir: %v", err)
	}
	files := map[string]string{
		"src/main.go": "package main\n",
		"src/lib.go":  "package main\n\nfunc lib() {}\n",
		"README.md":   "# Project\n",
	}
	for relativePath, content := range files {
		fullPath := filepath.Join(root, filepath.FromSlash(relativePath))
		if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
			testingHandle.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
			testingHandle.Fatalf("write: %v", err)
		}
	}

	contextSession := session.New(session.Options{
		Ignore:    config.DefaultIgnoreOptions(),
		WatchMode: mode,
		Monitor:   monitor.Options{Debounce: 100 * time.Millisecond, Tick: 10 * time.Millisecond},
	}, nil)
	runErrors := make(chan error, 1)
	go func() { runErrors <- contextSession.Run(context.Background()) }()
	testingHandle.Cleanup(func() {
		if err := contextSession.Close(context.Background()); err != nil {
			testingHandle.Errorf("Close error: %v", err)
		}
		if err := <-runErrors; err != nil {
			testingHandle.Errorf("Run error: %v", err)
		}
	})
	return &harness{testingHandle: testingHandle, root: root, session: contextSession}
}

func (h *harness) path(relativePath string) string {
	return filepath.Join(h.root, filepath.FromSlash(relativePath))
}

func (h *harness) waitFor(kind session.EventKind) session.Event {
	h.testingHandle.Helper()
	deadline := time.After(eventTimeout)
	for {
		select {
		case event := <-h.session.Events():
			if event.Kind == kind {
				return event
			}
		case <-deadline:
			h.testingHandle.Fatalf("timed out waiting for %s", kind)
			return session.Event{}
		}
	}
}

func (h *harness) openAndGenerate(selected ...string) string {
	h.testingHandle.Helper()
	ctx := context.Background()
	if err := h.session.Open(ctx, h.root); err != nil {
		h.testingHandle.Fatalf("Open error: %v", err)
	}
	if scanned := h.waitFor(session.ScanCompleted); scanned.Err != nil || scanned.Tree == nil || scanned.Tree.Path != h.root {
		h.testingHandle.Fatalf("unexpected scan event %+v", scanned)
	}
	if err := h.session.Select(ctx, selected); err != nil {
		h.testingHandle.Fatalf("Select error: %v", err)
	}
	if err := h.session.Generate(ctx, document.Markdown, ""); err != nil {
		h.testingHandle.Fatalf("Generate error: %v", err)
	}
	generated := h.waitFor(session.GenerateCompleted)
	if generated.Err != nil {
		h.testingHandle.Fatalf("generation failed: %v", generated.Err)
	}
	return generated.Path
}

func (h *harness) read(path string) string {
	h.testingHandle.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		h.testingHandle.Fatalf("read %s: %v", path, err)
	}
	return string(content)
}

func (h *harness) write(relativePath string, content string) {
	h.testingHandle.Helper()
	if err := os.WriteFile(h.path(relativePath), []byte(content), 0o644); err != nil {
		h.testingHandle.Fatalf("write: %v", err)
	}
}

func TestOpenSelectGenerate(testingHandle *testing.T) {
	h := newHarness(testingHandle, monitor.ModeDirectory)
	destination := h.openAndGenerate("src/main.go")

	if destination != h.path(document.Markdown.DefaultFileName()) {
		testingHandle.Fatalf("unexpected destination %s", destination)
	}
	content := h.read(destination)
	if !strings.Contains(content, "### src/main.go") || strings.Contains(content, "### src/lib.go") {
		testingHandle.Fatalf("unexpected document:\n%s", content)
	}
	selected, err := h.session.SelectedFiles(context.Background())
	if err != nil || len(selected) != 1 || selected[0] != h.path("src/main.go") {
		testingHandle.Fatalf("unexpected selection %v (%v)", selected, err)
	}
}

func TestToggleRegeneratesDocument(testingHandle *testing.T) {
	h := newHarness(testingHandle, monitor.ModeDirectory)
	destination := h.openAndGenerate("src/main.go")

	if err := h.session.Toggle(context.Background(), "src/lib.go"); err != nil {
		testingHandle.Fatalf("Toggle error: %v", err)
	}
	if generated := h.waitFor(session.GenerateCompleted); generated.Err != nil || generated.Summary.Files != 2 {
		testingHandle.Fatalf("unexpected generation %+v", generated)
	}
	if content := h.read(destination); !strings.Contains(content, "### src/lib.go") {
		testingHandle.Fatalf("expected lib.go section after toggle:\n%s", content)
	}
	if err := h.session.Toggle(context.Background(), "src/missing.go"); !errors.Is(err, types.ErrPathNotFound) {
		testingHandle.Fatalf("expected ErrPathNotFound, got %v", err)
	}
}

func TestWatchPatchesChangedSection(testingHandle *testing.T) {
	for _, mode := range []monitor.Mode{monitor.ModeDirectory, monitor.ModeFiles} {
		testingHandle.Run(mode.String(), func(subTest *testing.T) {
			h := newHarness(subTest, mode)
			destination := h.openAndGenerate("src/main.go", "README.md")
			if err := h.session.StartWatch(context.Background()); err != nil {
				subTest.Fatalf("StartWatch error: %v", err)
			}

			h.write("src/main.go", "package main\n\nfunc main() {}\n")
			patched := h.waitFor(session.SectionPatched)
			if patched.Err != nil || patched.Path != h.path("src/main.go") {
				subTest.Fatalf("unexpected patch event %+v", patched)
			}
			if content := h.read(destination); !strings.Contains(content, "func main() {}") {
				subTest.Fatalf("expected patched content:\n%s", content)
			}
		})
	}
}

func TestPatchFallsBackToRegeneration(testingHandle *testing.T) {
	h := newHarness(testingHandle, monitor.ModeDirectory)
	destination := h.openAndGenerate("src/main.go")
	if err := os.WriteFile(destination, []byte("edited by hand\n"), 0o644); err != nil {
		testingHandle.Fatalf("overwrite document: %v", err)
	}
	if err := h.session.StartWatch(context.Background()); err != nil {
		testingHandle.Fatalf("StartWatch error: %v", err)
	}

	h.write("src/main.go", "package main // changed\n")
	if generated := h.waitFor(session.GenerateCompleted); generated.Err != nil {
		testingHandle.Fatalf("fallback generation failed: %v", generated.Err)
	}
	content := h.read(destination)
	if !strings.HasPrefix(content, "# Context\n") || !strings.Contains(content, "package main // changed") {
		testingHandle.Fatalf("expected a regenerated document:\n%s", content)
	}
}

func TestStructuralChangeRescans(testingHandle *testing.T) {
	h := newHarness(testingHandle, monitor.ModeDirectory)
	h.openAndGenerate("src/main.go")
	if err := h.session.StartWatch(context.Background()); err != nil {
		testingHandle.Fatalf("StartWatch error: %v", err)
	}

	h.write("src/new.go", "package main\n")
	detected := h.waitFor(session.ChangeDetected)
	if detected.Change.Kind != monitor.StructureChanged {
		testingHandle.Fatalf("expected a structural change, got %+v", detected.Change)
	}
	scanned := h.waitFor(session.ScanCompleted)
	found := false
	scanned.Tree.Walk(func(node *types.TreeNode) bool {
		found = found || node.Path == h.path("src/new.go")
		return true
	})
	if !found {
		testingHandle.Fatalf("expected rescan to include the new file")
	}
	if generated := h.waitFor(session.GenerateCompleted); generated.Err != nil || generated.Summary.Files != 1 {
		testingHandle.Fatalf("unexpected regeneration %+v", generated)
	}
}

func TestStartWatchRequiresSelection(testingHandle *testing.T) {
	h := newHarness(testingHandle, monitor.ModeDirectory)
	ctx := context.Background()
	if err := h.session.StartWatch(ctx); !errors.Is(err, session.ErrNoDirectory) {
		testingHandle.Fatalf("expected ErrNoDirectory, got %v", err)
	}
	if err := h.session.Open(ctx, h.root); err != nil {
		testingHandle.Fatalf("Open error: %v", err)
	}
	h.waitFor(session.ScanCompleted)
	if err := h.session.StartWatch(ctx); !errors.Is(err, session.ErrEmptySelection) {
		testingHandle.Fatalf("expected ErrEmptySelection, got %v", err)
	}
	if err := h.session.StopWatch(ctx); err != nil {
		testingHandle.Fatalf("StopWatch error: %v", err)
	}
}

func TestOpenRejectsInvalidDirectory(testingHandle *testing.T) {
	h := newHarness(testingHandle, monitor.ModeDirectory)
	err := h.session.Open(context.Background(), h.path("README.md"))
	if !errors.Is(err, types.ErrInvalidDirectory) {
		testingHandle.Fatalf("expected ErrInvalidDirectory, got %v", err)
	}
	if err := h.session.Select(context.Background(), []string{"README.md"}); !errors.Is(err, session.ErrNoDirectory) {
		testingHandle.Fatalf("expected ErrNoDirectory, got %v", err)
	}
}

func TestCallsAfterCloseFail(testingHandle *testing.T) {
	contextSession := session.New(session.Options{}, nil)
	runErrors := make(chan error, 1)
	go func() { runErrors <- contextSession.Run(context.Background()) }()
	if err := contextSession.Close(context.Background()); err != nil {
		testingHandle.Fatalf("Close error: %v", err)
	}
	if err := <-runErrors; err != nil {
		testingHandle.Fatalf("Run error: %v", err)
	}
	if err := contextSession.Open(context.Background(), testingHandle.TempDir()); !errors.Is(err, session.ErrClosed) {
		testingHandle.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := contextSession.Close(context.Background()); err != nil {
		testingHandle.Fatalf("second Close error: %v", err)
	}
}

func TestGenerateLeavesPreviousDocumentOut(testingHandle *testing.T) {
	h := newHarness(testingHandle, monitor.ModeDirectory)
	h.write(document.Markdown.DefaultFileName(), "stale document\n")

	destination := h.openAndGenerate(".")
	rendered := h.read(destination)
	if strings.Contains(rendered, "stale document") {
		testingHandle.Fatalf("document includes its previous version:\n%s", rendered)
	}
	if !strings.Contains(rendered, "### src/main.go") {
		testingHandle.Fatalf("document misses selected file:\n%s", rendered)
	}
}
