package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/temirov/ctxsync/internal/services/clipboard"
	"github.com/temirov/ctxsync/internal/utils"
)

const commandTimeout = 10 * time.Second

type recordingCopier struct {
	copiedPaths []string
	failure     error
}

func (copier *recordingCopier) Copy(text string) error {
	return copier.failure
}

func (copier *recordingCopier) CopyFile(path string) error {
	copier.copiedPaths = append(copier.copiedPaths, path)
	return copier.failure
}

// newProject lays out a small project and isolates the user's home so no
// global configuration leaks into the test.
func newProject(testingInstance *testing.T) string {
	testingInstance.Helper()
	testingInstance.Setenv("HOME", testingInstance.TempDir())
	root, resolveError := filepath.EvalSymlinks(testingInstance.TempDir())
	if resolveError != nil {
		testingInstance.Fatalf("resolve temp dir: %v", resolveError)
	}
	files := map[string]string{
		"src/main.go":    "package main\n\nfunc main() {}\n",
		"src/lib.go":     "package main\n",
		"README.md":      "# Project\n",
		"vendor/dep.go":  "package dep\n",
		"debug.log":      "noise\n",
		".gitignore":     "vendor/\n",
		"docs/guide.txt": "guide\n",
	}
	for relativePath, content := range files {
		fullPath := filepath.Join(root, filepath.FromSlash(relativePath))
		if mkdirError := os.MkdirAll(filepath.Dir(fullPath), 0o755); mkdirError != nil {
			testingInstance.Fatalf("mkdir: %v", mkdirError)
		}
		if writeError := os.WriteFile(fullPath, []byte(content), 0o644); writeError != nil {
			testingInstance.Fatalf("write: %v", writeError)
		}
	}
	originalDirectory, getwdError := os.Getwd()
	if getwdError != nil {
		testingInstance.Fatalf("getwd: %v", getwdError)
	}
	if chdirError := os.Chdir(root); chdirError != nil {
		testingInstance.Fatalf("chdir: %v", chdirError)
	}
	testingInstance.Cleanup(func() { _ = os.Chdir(originalDirectory) })
	return root
}

func executeCommand(ctx context.Context, copier clipboard.Copier, arguments ...string) (string, error) {
	rootCommand := createRootCommand(applicationDependencies{
		newCopier: func() clipboard.Copier { return copier },
	})
	var buffer bytes.Buffer
	rootCommand.SetOut(&buffer)
	rootCommand.SetErr(&buffer)
	rootCommand.SetArgs(normalizeOptionalBooleanArguments(arguments, copyFlagName))
	executionError := rootCommand.ExecuteContext(ctx)
	return buffer.String(), executionError
}

func readFile(testingInstance *testing.T, path string) string {
	testingInstance.Helper()
	content, readError := os.ReadFile(path)
	if readError != nil {
		testingInstance.Fatalf("read %s: %v", path, readError)
	}
	return string(content)
}

func TestTreeCommandRendersFormats(testingInstance *testing.T) {
	root := newProject(testingInstance)

	rawOutput, rawError := executeCommand(context.Background(), &recordingCopier{}, "tree", root)
	if rawError != nil {
		testingInstance.Fatalf("tree raw error: %v", rawError)
	}
	if !strings.HasPrefix(rawOutput, root+"\n") {
		testingInstance.Fatalf("raw output should start with the root path:\n%s", rawOutput)
	}
	for _, expected := range []string{"src", "main.go", "README.md"} {
		if !strings.Contains(rawOutput, expected) {
			testingInstance.Fatalf("raw output misses %s:\n%s", expected, rawOutput)
		}
	}
	for _, excluded := range []string{"vendor", "debug.log"} {
		if strings.Contains(rawOutput, excluded) {
			testingInstance.Fatalf("raw output includes ignored %s:\n%s", excluded, rawOutput)
		}
	}

	jsonOutput, jsonError := executeCommand(context.Background(), &recordingCopier{}, "tree", "--format", "json", "-e", "docs", root)
	if jsonError != nil {
		testingInstance.Fatalf("tree json error: %v", jsonError)
	}
	var decoded map[string]any
	if decodeError := json.Unmarshal([]byte(jsonOutput), &decoded); decodeError != nil {
		testingInstance.Fatalf("tree json output is not JSON: %v\n%s", decodeError, jsonOutput)
	}
	if decoded["path"] != root {
		testingInstance.Fatalf("unexpected root path %v", decoded["path"])
	}
	if strings.Contains(jsonOutput, "guide.txt") {
		testingInstance.Fatalf("excluded directory rendered:\n%s", jsonOutput)
	}
}

func TestTreeCommandFlagsOverrideIgnoreSources(testingInstance *testing.T) {
	root := newProject(testingInstance)

	output, executionError := executeCommand(context.Background(), &recordingCopier{}, "tree", "--no-gitignore", "--no-default-excludes", root)
	if executionError != nil {
		testingInstance.Fatalf("tree error: %v", executionError)
	}
	for _, expected := range []string{"vendor", "debug.log"} {
		if !strings.Contains(output, expected) {
			testingInstance.Fatalf("expected %s with ignore sources disabled:\n%s", expected, output)
		}
	}
}

func TestCommandArgumentErrors(testingInstance *testing.T) {
	root := newProject(testingInstance)

	testCases := []struct {
		name      string
		arguments []string
	}{
		{name: "tree_format", arguments: []string{"tree", "--format", "xml", root}},
		{name: "document_format", arguments: []string{"generate", "--format", "pdf", root}},
		{name: "watch_mode", arguments: []string{"watch", "--mode", "everything", root}},
		{name: "missing_directory", arguments: []string{"generate", filepath.Join(root, "missing")}},
		{name: "unknown_selection", arguments: []string{"generate", root, "nothing-here.go"}},
	}
	for _, testCase := range testCases {
		testingInstance.Run(testCase.name, func(testingInstance *testing.T) {
			if _, executionError := executeCommand(context.Background(), &recordingCopier{}, testCase.arguments...); executionError == nil {
				testingInstance.Fatalf("expected an error for %v", testCase.arguments)
			}
		})
	}
}

func TestGenerateCommandWritesDocument(testingInstance *testing.T) {
	root := newProject(testingInstance)

	output, executionError := executeCommand(context.Background(), &recordingCopier{}, "generate", root)
	if executionError != nil {
		testingInstance.Fatalf("generate error: %v", executionError)
	}
	destination := filepath.Join(root, "project_structure.md")
	if !strings.Contains(output, "Wrote 5 files") || !strings.Contains(output, destination) {
		testingInstance.Fatalf("unexpected summary %q", output)
	}
	rendered := readFile(testingInstance, destination)
	for _, expected := range []string{"# Context", "## Project Structure", "### src/main.go", "func main() {}", "### README.md"} {
		if !strings.Contains(rendered, expected) {
			testingInstance.Fatalf("document misses %q:\n%s", expected, rendered)
		}
	}
	if strings.Contains(rendered, "vendor/dep.go") {
		testingInstance.Fatalf("document includes an ignored file:\n%s", rendered)
	}

	if _, rerunError := executeCommand(context.Background(), &recordingCopier{}, "generate", root); rerunError != nil {
		testingInstance.Fatalf("second generate error: %v", rerunError)
	}
	if rerendered := readFile(testingInstance, destination); rerendered != rendered {
		testingInstance.Fatalf("regeneration changed the document:\n%s", rerendered)
	}
}

func TestGenerateCommandSelectsPathsAndCopies(testingInstance *testing.T) {
	root := newProject(testingInstance)
	destination := filepath.Join(testingInstance.TempDir(), "context.adoc")
	copier := &recordingCopier{}

	_, executionError := executeCommand(context.Background(), copier,
		"generate", "--format", "asciidoc", "--output", destination, "--copy", root, "src")
	if executionError != nil {
		testingInstance.Fatalf("generate error: %v", executionError)
	}
	rendered := readFile(testingInstance, destination)
	if !strings.HasPrefix(rendered, "= Context\n") || !strings.Contains(rendered, "=== src/lib.go") {
		testingInstance.Fatalf("unexpected document:\n%s", rendered)
	}
	if strings.Contains(rendered, "README.md") {
		testingInstance.Fatalf("unselected file rendered:\n%s", rendered)
	}
	if len(copier.copiedPaths) != 1 || copier.copiedPaths[0] != destination {
		testingInstance.Fatalf("expected the document to be copied, got %v", copier.copiedPaths)
	}
}

func TestGenerateCommandReportsClipboardFailure(testingInstance *testing.T) {
	root := newProject(testingInstance)
	copier := &recordingCopier{failure: clipboard.ErrUnavailable}

	_, executionError := executeCommand(context.Background(), copier, "generate", "--copy", root)
	if !errors.Is(executionError, clipboard.ErrUnavailable) {
		testingInstance.Fatalf("expected clipboard error, got %v", executionError)
	}
}

func TestGenerateCommandUsesConfiguration(testingInstance *testing.T) {
	root := newProject(testingInstance)
	configuration := "document:\n  format: asciidoc\n  output: notes.adoc\npaths:\n  exclude:\n    - docs/\n"
	configurationPath := filepath.Join(root, utils.ConfigFileName)
	if writeError := os.WriteFile(configurationPath, []byte(configuration), 0o600); writeError != nil {
		testingInstance.Fatalf("write configuration: %v", writeError)
	}

	if _, executionError := executeCommand(context.Background(), &recordingCopier{}, "generate", root); executionError != nil {
		testingInstance.Fatalf("generate error: %v", executionError)
	}
	rendered := readFile(testingInstance, filepath.Join(root, "notes.adoc"))
	if !strings.HasPrefix(rendered, "= Context\n") {
		testingInstance.Fatalf("configured format ignored:\n%s", rendered)
	}
	if strings.Contains(rendered, "guide.txt") {
		testingInstance.Fatalf("configured exclusion ignored:\n%s", rendered)
	}

	flagDestination := filepath.Join(root, "flag.md")
	if _, executionError := executeCommand(context.Background(), &recordingCopier{}, "generate", "--format", "markdown", "--output", flagDestination, root); executionError != nil {
		testingInstance.Fatalf("generate with flags error: %v", executionError)
	}
	if rendered := readFile(testingInstance, flagDestination); !strings.HasPrefix(rendered, "# Context\n") {
		testingInstance.Fatalf("flags should override configuration:\n%s", rendered)
	}
}

func TestWatchCommandKeepsDocumentInSync(testingInstance *testing.T) {
	root := newProject(testingInstance)
	destination := filepath.Join(root, "project_structure.md")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	finished := make(chan error, 1)
	go func() {
		_, executionError := executeCommand(ctx, &recordingCopier{}, "watch", "--debounce", "100ms", root, "src")
		finished <- executionError
	}()

	waitUntil(testingInstance, func() bool {
		content, readError := os.ReadFile(destination)
		return readError == nil && strings.Contains(string(content), "func main() {}")
	})
	// Let the watch register before changing the file.
	time.Sleep(300 * time.Millisecond)

	mainPath := filepath.Join(root, "src", "main.go")
	if writeError := os.WriteFile(mainPath, []byte("package main\n\nfunc main() { run() }\n"), 0o644); writeError != nil {
		testingInstance.Fatalf("write: %v", writeError)
	}
	waitUntil(testingInstance, func() bool {
		return strings.Contains(readFile(testingInstance, destination), "func main() { run() }")
	})

	cancel()
	select {
	case executionError := <-finished:
		if executionError != nil {
			testingInstance.Fatalf("watch error: %v", executionError)
		}
	case <-time.After(commandTimeout):
		testingInstance.Fatalf("watch did not stop after cancellation")
	}
}

func TestInitCommandWritesConfiguration(testingInstance *testing.T) {
	root := newProject(testingInstance)

	output, executionError := executeCommand(context.Background(), &recordingCopier{}, "init")
	if executionError != nil {
		testingInstance.Fatalf("init error: %v", executionError)
	}
	configurationPath := filepath.Join(root, utils.ConfigFileName)
	if !strings.Contains(output, configurationPath) {
		testingInstance.Fatalf("unexpected output %q", output)
	}
	if _, repeatError := executeCommand(context.Background(), &recordingCopier{}, "init"); repeatError == nil {
		testingInstance.Fatalf("expected init to refuse overwriting")
	}
	if writeError := os.WriteFile(configurationPath, []byte("paths: [broken"), 0o600); writeError != nil {
		testingInstance.Fatalf("write: %v", writeError)
	}
	if _, forceError := executeCommand(context.Background(), &recordingCopier{}, "init", "--force"); forceError != nil {
		testingInstance.Fatalf("init --force should replace a malformed file: %v", forceError)
	}
}

func TestRootCommandPrintsVersion(testingInstance *testing.T) {
	newProject(testingInstance)
	utils.Version = "v9.9.9-test"
	testingInstance.Cleanup(func() { utils.Version = "" })

	output, executionError := executeCommand(context.Background(), &recordingCopier{}, "--version")
	if executionError != nil {
		testingInstance.Fatalf("version error: %v", executionError)
	}
	if output != "ctxsync version: v9.9.9-test\n" {
		testingInstance.Fatalf("unexpected version output %q", output)
	}
}

func waitUntil(testingInstance *testing.T, condition func() bool) {
	testingInstance.Helper()
	deadline := time.Now().Add(commandTimeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	testingInstance.Fatalf("condition not met within %s", commandTimeout)
}
