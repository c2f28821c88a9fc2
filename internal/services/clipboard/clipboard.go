// Package clipboard copies generated documents to the system clipboard.
package clipboard

import (
	"errors"
	"fmt"
	"os"

	"github.com/atotto/clipboard"
)

// ErrUnavailable reports that no clipboard utility is available on this system.
var ErrUnavailable = errors.New("clipboard unavailable")

const errorReadDocumentFormat = "read document %s for clipboard: %w"

// Copier copies textual data to the system clipboard.
type Copier interface {
	Copy(text string) error
	CopyFile(path string) error
}

// Service implements Copier using github.com/atotto/clipboard.
type Service struct {
	writeText func(string) error
}

// NewService constructs a clipboard service backed by the system clipboard.
func NewService() *Service {
	return newServiceWithWriter(func(text string) error {
		if clipboard.Unsupported {
			return ErrUnavailable
		}
		return clipboard.WriteAll(text)
	})
}

func newServiceWithWriter(writeText func(string) error) *Service {
	return &Service{writeText: writeText}
}

// Copy writes text to the system clipboard.
func (service *Service) Copy(text string) error {
	return service.writeText(text)
}

// CopyFile writes the content of the file at path to the system clipboard.
func (service *Service) CopyFile(path string) error {
	content, readError := os.ReadFile(path)
	if readError != nil {
		return fmt.Errorf(errorReadDocumentFormat, path, readError)
	}
	return service.Copy(string(content))
}

var _ Copier = (*Service)(nil)
