package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/temirov/ctxsync/internal/types"
	"github.com/temirov/ctxsync/internal/utils"
)

func writeFixture(testingInstance *testing.T, root string, relativePath string, content string) {
	testingInstance.Helper()
	fullPath := filepath.Join(root, filepath.FromSlash(relativePath))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		testingInstance.Fatalf("mkdir %s: %v", filepath.Dir(fullPath), err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o600); err != nil {
		testingInstance.Fatalf("write %s: %v", fullPath, err)
	}
}

func TestIgnoreRulesLayering(testingInstance *testing.T) {
	testingInstance.Setenv("HOME", testingInstance.TempDir())
	root := testingInstance.TempDir()
	writeFixture(testingInstance, root, utils.GitIgnoreFileName, "*.secret\n# comment\n\n")
	writeFixture(testingInstance, root, utils.IgnoreFileName, "notes.txt\n")
	writeFixture(testingInstance, root, "sub/"+utils.GitIgnoreFileName, "!keep.secret\n")
	writeFixture(testingInstance, root, ".git/info/exclude", "local-only/\n")

	rules, err := LoadIgnoreRules(root, []string{"docs", "["}, DefaultIgnoreOptions(), nil)
	if err != nil {
		testingInstance.Fatalf("LoadIgnoreRules error: %v", err)
	}
	subRules, err := rules.Descend(filepath.Join(root, "sub"), []string{"sub"})
	if err != nil {
		testingInstance.Fatalf("Descend error: %v", err)
	}

	testCases := []struct {
		name        string
		rules       *IgnoreRules
		segments    []string
		isDirectory bool
		expected    bool
	}{
		{name: "gitignore pattern", rules: rules, segments: []string{"api.secret"}, expected: true},
		{name: "ignore file pattern", rules: rules, segments: []string{"notes.txt"}, expected: true},
		{name: "info exclude", rules: rules, segments: []string{"local-only"}, isDirectory: true, expected: true},
		{name: "git directory", rules: rules, segments: []string{".git"}, isDirectory: true, expected: true},
		{name: "default deny-list", rules: rules, segments: []string{"web", "node_modules"}, isDirectory: true, expected: true},
		{name: "extra pattern", rules: rules, segments: []string{"docs"}, isDirectory: true, expected: true},
		{name: "hidden file kept", rules: rules, segments: []string{".editorconfig"}, expected: false},
		{name: "plain source kept", rules: rules, segments: []string{"main.go"}, expected: false},
		{name: "root has no segments", rules: rules, segments: nil, isDirectory: true, expected: false},
		{name: "nested negation unknown at root", rules: rules, segments: []string{"sub", "keep.secret"}, expected: true},
		{name: "nested negation", rules: subRules, segments: []string{"sub", "keep.secret"}, expected: false},
		{name: "nested still excludes others", rules: subRules, segments: []string{"sub", "other.secret"}, expected: true},
	}
	for _, testCase := range testCases {
		testingInstance.Run(testCase.name, func(subTest *testing.T) {
			if actual := testCase.rules.Match(testCase.segments, testCase.isDirectory); actual != testCase.expected {
				subTest.Fatalf("Match(%v) = %v, expected %v", testCase.segments, actual, testCase.expected)
			}
		})
	}
}

func TestExtraPatternsNeverReinclude(testingInstance *testing.T) {
	testingInstance.Setenv("HOME", testingInstance.TempDir())
	root := testingInstance.TempDir()

	rules, err := LoadIgnoreRules(root, []string{"!node_modules", "!generated/", "!"}, DefaultIgnoreOptions(), nil)
	if err != nil {
		testingInstance.Fatalf("LoadIgnoreRules error: %v", err)
	}
	testCases := []struct {
		name     string
		segments []string
	}{
		{name: "negated default stays excluded", segments: []string{"node_modules"}},
		{name: "negated extra excludes", segments: []string{"generated"}},
	}
	for _, testCase := range testCases {
		if !rules.Match(testCase.segments, true) {
			testingInstance.Errorf("%s: expected %v to be excluded", testCase.name, testCase.segments)
		}
	}
	if rules.Match([]string{"src"}, true) {
		testingInstance.Errorf("a bare negation must not exclude anything")
	}
}

func TestIgnoreRulesOptionsDisableSources(testingInstance *testing.T) {
	testingInstance.Setenv("HOME", testingInstance.TempDir())
	root := testingInstance.TempDir()
	writeFixture(testingInstance, root, utils.GitIgnoreFileName, "*.secret\n")
	writeFixture(testingInstance, root, utils.IgnoreFileName, "notes.txt\n")

	rules, err := LoadIgnoreRules(root, nil, IgnoreOptions{IncludeGit: true}, nil)
	if err != nil {
		testingInstance.Fatalf("LoadIgnoreRules error: %v", err)
	}
	for _, segments := range [][]string{{"api.secret"}, {"notes.txt"}, {"node_modules"}, {".git"}} {
		if rules.Match(segments, segments[0] == ".git" || segments[0] == "node_modules") {
			testingInstance.Fatalf("expected %v to be kept with every source disabled", segments)
		}
	}
}

func TestIgnoreRulesMatchPath(testingInstance *testing.T) {
	testingInstance.Setenv("HOME", testingInstance.TempDir())
	root := testingInstance.TempDir()
	rules, err := LoadIgnoreRules(root, []string{"*.bak"}, DefaultIgnoreOptions(), nil)
	if err != nil {
		testingInstance.Fatalf("LoadIgnoreRules error: %v", err)
	}
	if !rules.MatchPath(filepath.Join(root, "a", "b.bak"), false) {
		testingInstance.Fatalf("expected nested backup file to match")
	}
	if rules.MatchPath(filepath.Join(filepath.Dir(root), "elsewhere.bak"), false) {
		testingInstance.Fatalf("expected path outside the root never to match")
	}
	if rules.MatchPath(root, true) {
		testingInstance.Fatalf("expected root itself never to match")
	}
}

func TestLoadIgnoreRulesUnreadableIgnoreFile(testingInstance *testing.T) {
	testingInstance.Setenv("HOME", testingInstance.TempDir())
	root := testingInstance.TempDir()
	// a directory where the ignore file should be cannot be read as a file
	if err := os.MkdirAll(filepath.Join(root, utils.GitIgnoreFileName), 0o755); err != nil {
		testingInstance.Fatalf("mkdir: %v", err)
	}
	_, err := LoadIgnoreRules(root, nil, DefaultIgnoreOptions(), nil)
	if !errors.Is(err, types.ErrIgnoreRuleBuild) {
		testingInstance.Fatalf("expected ErrIgnoreRuleBuild, got %v", err)
	}
}

func TestDescendOrKeepFallsBack(testingInstance *testing.T) {
	testingInstance.Setenv("HOME", testingInstance.TempDir())
	root := testingInstance.TempDir()
	rules, err := LoadIgnoreRules(root, nil, DefaultIgnoreOptions(), nil)
	if err != nil {
		testingInstance.Fatalf("LoadIgnoreRules error: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sub", utils.IgnoreFileName), 0o755); err != nil {
		testingInstance.Fatalf("mkdir: %v", err)
	}
	if kept := rules.DescendOrKeep(filepath.Join(root, "sub"), []string{"sub"}); kept != rules {
		testingInstance.Fatalf("expected the parent rules to be kept")
	}
}

func TestTrimTrailingSpaces(testingInstance *testing.T) {
	testCases := map[string]string{
		"name   ": "name",
		`name\ `:  `name\ `,
		"name":    "name",
		"a b  ":   "a b",
		"":        "",
	}
	for input, expected := range testCases {
		if actual := trimTrailingSpaces(input); actual != expected {
			testingInstance.Fatalf("trimTrailingSpaces(%q) = %q, expected %q", input, actual, expected)
		}
	}
}
