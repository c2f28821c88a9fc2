// Package scanner builds the ignore-aware, deterministically ordered project tree.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/temirov/ctxsync/internal/config"
	"github.com/temirov/ctxsync/internal/types"
	"github.com/temirov/ctxsync/internal/utils"
)

const (
	operationScan = "scan"

	errorNotDirectoryFormat = "%s is not a directory"

	warningSkipDirectory     = "skipping unreadable directory"
	debugSkipSymlink         = "skipping symbolic link"
	debugSkipUncanonicalPath = "skipping entry without canonical path"
	debugScanCompleted       = "scan completed"
)

// Scanner walks a root directory and returns its tree. A Scanner holds no
// per-scan state and may be reused.
type Scanner struct {
	options config.IgnoreOptions
	logger  *zap.Logger
}

// NewScanner returns a Scanner applying the given ignore sources.
func NewScanner(options config.IgnoreOptions, logger *zap.Logger) *Scanner {
	return &Scanner{options: options, logger: utils.LoggerOrNop(logger)}
}

// Scan walks rootDirectoryPath and returns its canonical tree. The
// ignorePatterns use .gitignore syntax and always exclude what they name.
//
// The root must be a readable directory; otherwise the returned error
// unwraps to types.ErrInvalidDirectory or types.ErrPermissionDenied.
// Entries below the root that cannot be read or canonicalized are logged
// and skipped.
func (scanner *Scanner) Scan(rootDirectoryPath string, ignorePatterns []string) (*types.TreeNode, error) {
	tree, _, scanError := scanner.ScanWithRules(rootDirectoryPath, ignorePatterns)
	return tree, scanError
}

// ScanWithRules is Scan that also returns the ignore rules in effect at the root.
func (scanner *Scanner) ScanWithRules(rootDirectoryPath string, ignorePatterns []string) (*types.TreeNode, *config.IgnoreRules, error) {
	canonicalRootPath, rootError := CanonicalDirectory(rootDirectoryPath)
	if rootError != nil {
		return nil, nil, rootError
	}

	rootEntries, readError := os.ReadDir(canonicalRootPath)
	if readError != nil {
		return nil, nil, types.NewOperationError(operationScan, canonicalRootPath, classifyRootError(readError), readError)
	}

	rules, rulesError := config.LoadIgnoreRules(canonicalRootPath, ignorePatterns, scanner.options, scanner.logger)
	if rulesError != nil {
		return nil, nil, rulesError
	}

	rootNode := &types.TreeNode{
		Name:        filepath.Base(canonicalRootPath),
		Path:        canonicalRootPath,
		IsDirectory: true,
	}
	rootNode.Children = scanner.buildChildren(canonicalRootPath, nil, rootEntries, rules)

	scanner.logger.Debug(debugScanCompleted, zap.String("path", canonicalRootPath))
	return rootNode, rules, nil
}

// buildChildren turns the entries of one directory into sorted child nodes,
// recursing into subdirectories.
func (scanner *Scanner) buildChildren(directoryPath string, directorySegments []string, entries []os.DirEntry, rules *config.IgnoreRules) []*types.TreeNode {
	var nodes []*types.TreeNode
	for _, entry := range entries {
		entryPath := filepath.Join(directoryPath, entry.Name())
		if entry.Type()&fs.ModeSymlink != 0 {
			scanner.logger.Debug(debugSkipSymlink, zap.String("path", entryPath))
			continue
		}

		entrySegments := appendSegment(directorySegments, entry.Name())
		isDirectory := entry.IsDir()
		if rules.Match(entrySegments, isDirectory) {
			continue
		}

		canonicalPath, canonicalError := filepath.EvalSymlinks(entryPath)
		if canonicalError != nil {
			scanner.logger.Debug(debugSkipUncanonicalPath, zap.String("path", entryPath), zap.Error(canonicalError))
			continue
		}

		node := &types.TreeNode{
			Name:        entry.Name(),
			Path:        canonicalPath,
			IsDirectory: isDirectory,
		}
		if isDirectory {
			childEntries, readError := os.ReadDir(canonicalPath)
			if readError != nil {
				scanner.logger.Warn(warningSkipDirectory, zap.String("path", canonicalPath), zap.Error(readError))
				continue
			}
			childRules := rules.DescendOrKeep(canonicalPath, entrySegments)
			node.Children = scanner.buildChildren(canonicalPath, entrySegments, childEntries, childRules)
		}
		nodes = append(nodes, node)
	}

	sort.SliceStable(nodes, func(leftIndex, rightIndex int) bool {
		return types.NodeLess(nodes[leftIndex], nodes[rightIndex])
	})
	return nodes
}

// CanonicalDirectory resolves directoryPath to an absolute, symlink-free path
// and verifies that it names a directory.
func CanonicalDirectory(directoryPath string) (string, error) {
	absolutePath, absoluteError := filepath.Abs(directoryPath)
	if absoluteError != nil {
		return "", types.NewOperationError(operationScan, directoryPath, types.ErrInvalidDirectory, absoluteError)
	}
	canonicalPath, canonicalError := filepath.EvalSymlinks(absolutePath)
	if canonicalError != nil {
		return "", types.NewOperationError(operationScan, absolutePath, classifyRootError(canonicalError), canonicalError)
	}
	info, statError := os.Stat(canonicalPath)
	if statError != nil {
		return "", types.NewOperationError(operationScan, canonicalPath, classifyRootError(statError), statError)
	}
	if !info.IsDir() {
		return "", types.NewOperationError(operationScan, canonicalPath, types.ErrInvalidDirectory, fmt.Errorf(errorNotDirectoryFormat, canonicalPath))
	}
	return canonicalPath, nil
}

func classifyRootError(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return types.ErrPermissionDenied
	}
	return types.ErrInvalidDirectory
}

func appendSegment(segments []string, name string) []string {
	extended := make([]string, len(segments), len(segments)+1)
	copy(extended, segments)
	return append(extended, name)
}
