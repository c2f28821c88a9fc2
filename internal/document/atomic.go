package document

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/temirov/ctxsync/internal/types"
)

const (
	// TemporaryFilePattern names the temporary files created next to a destination.
	TemporaryFilePattern = ".ctxsync-*.tmp"

	temporaryFilePrefix = ".ctxsync-"
	temporaryFileSuffix = ".tmp"
	documentPermissions = 0o644

	operationAtomicWrite = "write document"
)

// renameFile moves the finished temporary file over the destination.
var renameFile = os.Rename

// IsTemporaryFile reports whether path names a temporary file created by WriteFileAtomic.
func IsTemporaryFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasPrefix(name, temporaryFilePrefix) && strings.HasSuffix(name, temporaryFileSuffix)
}

// WriteFileAtomic replaces destination with content. The content goes to a
// temporary file in the destination directory which is then renamed over
// the destination, so readers see either the old or the new document. On
// failure the temporary file is removed and the destination is untouched.
func WriteFileAtomic(destination string, content []byte) error {
	temporaryFile, createError := os.CreateTemp(filepath.Dir(destination), TemporaryFilePattern)
	if createError != nil {
		return types.NewOperationError(operationAtomicWrite, destination, types.ErrAtomicWrite, createError)
	}
	temporaryPath := temporaryFile.Name()

	fail := func(cause error) error {
		_ = temporaryFile.Close()
		_ = os.Remove(temporaryPath)
		return types.NewOperationError(operationAtomicWrite, destination, types.ErrAtomicWrite, cause)
	}

	if _, writeError := temporaryFile.Write(content); writeError != nil {
		return fail(writeError)
	}
	if syncError := temporaryFile.Sync(); syncError != nil {
		return fail(syncError)
	}
	if chmodError := temporaryFile.Chmod(documentPermissions); chmodError != nil {
		return fail(chmodError)
	}
	if closeError := temporaryFile.Close(); closeError != nil {
		_ = os.Remove(temporaryPath)
		return types.NewOperationError(operationAtomicWrite, destination, types.ErrAtomicWrite, closeError)
	}
	if renameError := renameFile(temporaryPath, destination); renameError != nil {
		_ = os.Remove(temporaryPath)
		return types.NewOperationError(operationAtomicWrite, destination, types.ErrAtomicWrite, renameError)
	}
	return nil
}
