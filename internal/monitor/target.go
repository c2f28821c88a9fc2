package monitor

import (
	"path/filepath"
	"strings"
)

// Mode selects what a WatchTarget covers.
type Mode int

const (
	// ModeDirectory watches one directory and everything below it.
	ModeDirectory Mode = iota
	// ModeFiles watches an explicit set of files through their parent directories.
	ModeFiles
)

const (
	modeDirectoryName = "directory"
	modeFilesName     = "files"
)

// String returns the configuration name of the mode.
func (mode Mode) String() string {
	if mode == ModeFiles {
		return modeFilesName
	}
	return modeDirectoryName
}

// ParseMode converts a configuration value into a Mode.
func ParseMode(value string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", modeDirectoryName:
		return ModeDirectory, true
	case modeFilesName:
		return ModeFiles, true
	default:
		return ModeDirectory, false
	}
}

// WatchTarget is either one directory watched recursively or an explicit file
// set. The two are never mixed.
type WatchTarget struct {
	Mode      Mode
	Directory string
	Files     []string
}

// DirectoryTarget watches directoryPath recursively.
func DirectoryTarget(directoryPath string) WatchTarget {
	return WatchTarget{Mode: ModeDirectory, Directory: directoryPath}
}

// FilesTarget watches the given files.
func FilesTarget(filePaths []string) WatchTarget {
	return WatchTarget{Mode: ModeFiles, Files: append([]string(nil), filePaths...)}
}

// parentDirectories returns the distinct parent directories of files in first-seen order.
func parentDirectories(filePaths []string) []string {
	seen := make(map[string]struct{}, len(filePaths))
	var parents []string
	for _, filePath := range filePaths {
		parent := filepath.Dir(filePath)
		if _, exists := seen[parent]; exists {
			continue
		}
		seen[parent] = struct{}{}
		parents = append(parents, parent)
	}
	return parents
}

// commonDirectory returns the deepest directory containing every path.
func commonDirectory(directories []string) string {
	if len(directories) == 0 {
		return ""
	}
	common := directories[0]
	for _, directory := range directories[1:] {
		for !isWithin(common, directory) {
			parent := filepath.Dir(common)
			if parent == common {
				return common
			}
			common = parent
		}
	}
	return common
}

func isWithin(directory string, candidate string) bool {
	if directory == candidate {
		return true
	}
	relativePath, relativeError := filepath.Rel(directory, candidate)
	return relativeError == nil && relativePath != ".." && !strings.HasPrefix(relativePath, ".."+string(filepath.Separator))
}
