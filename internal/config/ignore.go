// Package config loads ignore rules and application configuration.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"go.uber.org/zap"

	"github.com/temirov/ctxsync/internal/types"
	"github.com/temirov/ctxsync/internal/utils"
)

const (
	// gitDirectoryPattern represents the pattern that matches the Git directory.
	gitDirectoryPattern = utils.GitDirectoryName + "/"
	// infoExcludeRelativePath is the repository-local exclude file.
	infoExcludeRelativePath = utils.GitDirectoryName + "/info/exclude"
	commentPrefix           = "#"
	negationPrefix          = "!"
	filesystemRoot          = "/"

	operationLoadIgnoreRules  = "load ignore rules"
	warningSkipPattern        = "skipping invalid ignore pattern"
	warningSkipIgnoreFile     = "skipping unreadable ignore file"
	warningSkipSystemExcludes = "skipping system git excludes"
	warningSkipGlobalExcludes = "skipping global git excludes"
)

// IgnoreOptions selects which ignore sources participate in a scan.
type IgnoreOptions struct {
	// UseGitignore enables version-control rules: system and global excludes,
	// .git/info/exclude and every .gitignore below the root.
	UseGitignore bool
	// UseIgnoreFile enables .ignore files below the root.
	UseIgnoreFile bool
	// UseDefaultExcludes layers DefaultExcludePatterns on top.
	UseDefaultExcludes bool
	// IncludeGit keeps the .git directory in the tree.
	IncludeGit bool
}

// DefaultIgnoreOptions enables every ignore source and hides .git.
func DefaultIgnoreOptions() IgnoreOptions {
	return IgnoreOptions{UseGitignore: true, UseIgnoreFile: true, UseDefaultExcludes: true}
}

// IgnoreRules answers whether a path relative to the scan root is excluded.
// Rules are layered from lowest to highest precedence: system and global VCS
// excludes, per-directory .gitignore and .ignore files (deeper wins), the
// default deny-list, then caller-supplied patterns. The value is immutable;
// Descend returns a new value extended with a directory's own files.
type IgnoreRules struct {
	rootDirectoryPath string
	options           IgnoreOptions
	leadingPatterns   []gitignore.Pattern
	trailingPatterns  []gitignore.Pattern
	matcher           gitignore.Matcher
	logger            *zap.Logger
}

// LoadIgnoreRules builds the rules in effect at rootDirectoryPath. The
// extraPatterns always exclude what they name, so a leading "!" is dropped;
// malformed ones are logged and skipped.
func LoadIgnoreRules(rootDirectoryPath string, extraPatterns []string, options IgnoreOptions, logger *zap.Logger) (*IgnoreRules, error) {
	logger = utils.LoggerOrNop(logger)
	rules := &IgnoreRules{
		rootDirectoryPath: rootDirectoryPath,
		options:           options,
		logger:            logger,
	}

	if options.UseGitignore {
		rootFilesystem := osfs.New(filesystemRoot)
		systemPatterns, systemError := gitignore.LoadSystemPatterns(rootFilesystem)
		if systemError != nil {
			logger.Warn(warningSkipSystemExcludes, zap.Error(systemError))
		}
		globalPatterns, globalError := gitignore.LoadGlobalPatterns(rootFilesystem)
		if globalError != nil {
			logger.Warn(warningSkipGlobalExcludes, zap.Error(globalError))
		}
		rules.leadingPatterns = append(rules.leadingPatterns, systemPatterns...)
		rules.leadingPatterns = append(rules.leadingPatterns, globalPatterns...)

		excludePatterns, excludeError := readIgnoreFile(filepath.Join(rootDirectoryPath, filepath.FromSlash(infoExcludeRelativePath)), nil)
		if excludeError != nil {
			return nil, types.NewOperationError(operationLoadIgnoreRules, rootDirectoryPath, types.ErrIgnoreRuleBuild, excludeError)
		}
		rules.leadingPatterns = append(rules.leadingPatterns, excludePatterns...)
	}

	var trailing []string
	if !options.IncludeGit {
		trailing = append(trailing, gitDirectoryPattern)
	}
	if options.UseDefaultExcludes {
		trailing = append(trailing, DefaultExcludePatterns...)
	}
	for _, extraPattern := range utils.DeduplicatePatterns(extraPatterns) {
		extraPattern = strings.TrimPrefix(extraPattern, negationPrefix)
		if extraPattern == "" {
			continue
		}
		if validationError := validatePattern(extraPattern); validationError != nil {
			logger.Warn(warningSkipPattern, zap.String("pattern", extraPattern), zap.Error(validationError))
			continue
		}
		trailing = append(trailing, extraPattern)
	}
	for _, trailingPattern := range utils.DeduplicatePatterns(trailing) {
		rules.trailingPatterns = append(rules.trailingPatterns, gitignore.ParsePattern(trailingPattern, nil))
	}

	rootRules, descendError := rules.Descend(rootDirectoryPath, nil)
	if descendError != nil {
		return nil, types.NewOperationError(operationLoadIgnoreRules, rootDirectoryPath, types.ErrIgnoreRuleBuild, descendError)
	}
	return rootRules, nil
}

// Descend returns rules extended with the .gitignore and .ignore files found
// in directoryPath, whose segments relative to the root are given. The
// receiver is left unchanged.
func (rules *IgnoreRules) Descend(directoryPath string, segments []string) (*IgnoreRules, error) {
	var discovered []gitignore.Pattern
	if rules.options.UseGitignore {
		gitignorePatterns, readError := readIgnoreFile(filepath.Join(directoryPath, utils.GitIgnoreFileName), segments)
		if readError != nil {
			return nil, readError
		}
		discovered = append(discovered, gitignorePatterns...)
	}
	if rules.options.UseIgnoreFile {
		ignorePatterns, readError := readIgnoreFile(filepath.Join(directoryPath, utils.IgnoreFileName), segments)
		if readError != nil {
			return nil, readError
		}
		discovered = append(discovered, ignorePatterns...)
	}
	if len(discovered) == 0 && rules.matcher != nil {
		return rules, nil
	}

	extended := *rules
	extended.leadingPatterns = make([]gitignore.Pattern, 0, len(rules.leadingPatterns)+len(discovered))
	extended.leadingPatterns = append(extended.leadingPatterns, rules.leadingPatterns...)
	extended.leadingPatterns = append(extended.leadingPatterns, discovered...)
	combined := make([]gitignore.Pattern, 0, len(extended.leadingPatterns)+len(rules.trailingPatterns))
	combined = append(combined, extended.leadingPatterns...)
	combined = append(combined, rules.trailingPatterns...)
	extended.matcher = gitignore.NewMatcher(combined)
	return &extended, nil
}

// DescendOrKeep is Descend with unreadable ignore files logged and skipped.
func (rules *IgnoreRules) DescendOrKeep(directoryPath string, segments []string) *IgnoreRules {
	extended, descendError := rules.Descend(directoryPath, segments)
	if descendError != nil {
		rules.logger.Warn(warningSkipIgnoreFile, zap.String("path", directoryPath), zap.Error(descendError))
		return rules
	}
	return extended
}

// Match reports whether the path with the given segments relative to the root is excluded.
func (rules *IgnoreRules) Match(segments []string, isDirectory bool) bool {
	if len(segments) == 0 || rules.matcher == nil {
		return false
	}
	return rules.matcher.Match(segments, isDirectory)
}

// MatchPath is Match for an absolute path. Paths outside the root never match.
func (rules *IgnoreRules) MatchPath(absolutePath string, isDirectory bool) bool {
	relativePath, relativeError := utils.RelativeSlashPath(rules.rootDirectoryPath, absolutePath)
	if relativeError != nil {
		return false
	}
	return rules.Match(utils.SplitSlashPath(relativePath), isDirectory)
}

// readIgnoreFile parses one ignore file into patterns anchored at domain.
// A missing file yields no patterns.
//
// #nosec G304
func readIgnoreFile(ignoreFilePath string, domain []string) ([]gitignore.Pattern, error) {
	fileHandle, openFileError := os.Open(ignoreFilePath)
	if openFileError != nil {
		if errors.Is(openFileError, fs.ErrNotExist) || errors.Is(openFileError, syscall.ENOTDIR) {
			return nil, nil
		}
		return nil, openFileError
	}
	defer fileHandle.Close()

	domain = append([]string(nil), domain...)
	var patterns []gitignore.Pattern
	scanner := bufio.NewScanner(fileHandle)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, commentPrefix) || strings.TrimSpace(line) == "" {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(trimTrailingSpaces(line), domain))
	}
	if scanError := scanner.Err(); scanError != nil {
		return nil, fmt.Errorf("reading %s: %w", ignoreFilePath, scanError)
	}
	return patterns, nil
}

// trimTrailingSpaces removes unescaped trailing spaces the way git does.
func trimTrailingSpaces(line string) string {
	for strings.HasSuffix(line, " ") && !strings.HasSuffix(line, `\ `) {
		line = strings.TrimSuffix(line, " ")
	}
	return line
}

// validatePattern rejects patterns whose glob segments cannot compile.
func validatePattern(pattern string) error {
	trimmed := strings.Trim(pattern, "/")
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "**" {
			continue
		}
		if _, matchError := filepath.Match(segment, ""); matchError != nil {
			return matchError
		}
	}
	return nil
}
