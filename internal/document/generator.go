// Package document renders the context document and keeps it in sync.
package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"

	"github.com/temirov/ctxsync/internal/types"
	"github.com/temirov/ctxsync/internal/utils"
)

const (
	documentLevel = 1
	blockLevel    = 2
	sectionLevel  = 3

	lossyWarning = "[WARNING: This file contained non-UTF8 content and was converted with potential data loss]"

	connectorMiddle = "├── "
	connectorLast   = "└── "
	guideContinue   = "│   "
	guideBlank      = "    "
	directorySuffix = "/"

	operationGenerate      = "generate document"
	operationRenderSection = "render section"
	operationUpdateSection = "update section"

	errorHeaderMissingFormat = "header %q not found"
	warningLossyDecode       = "file is not valid UTF-8, decoded with replacement characters"
	debugDocumentWritten     = "document written"
	debugSectionPatched      = "section patched"
)

// Summary describes a rendered document.
type Summary struct {
	Files      int
	Bytes      int64
	LossyFiles int
}

// Generator renders documents for a fixed root and selected-file snapshot.
type Generator struct {
	rootDirectoryPath string
	selectedFiles     []string
	selected          map[string]struct{}
	logger            *zap.Logger
}

// NewGenerator returns a Generator for the files selected under rootDirectoryPath.
// The selection is copied; later changes to the caller's slice have no effect.
func NewGenerator(rootDirectoryPath string, selectedFiles []string, logger *zap.Logger) *Generator {
	selected := make(map[string]struct{}, len(selectedFiles))
	snapshot := make([]string, 0, len(selectedFiles))
	for _, filePath := range selectedFiles {
		if _, duplicate := selected[filePath]; duplicate {
			continue
		}
		selected[filePath] = struct{}{}
		snapshot = append(snapshot, filePath)
	}
	sort.Strings(snapshot)
	return &Generator{
		rootDirectoryPath: rootDirectoryPath,
		selectedFiles:     snapshot,
		selected:          selected,
		logger:            utils.LoggerOrNop(logger),
	}
}

// GenerateFull renders the whole document for tree and atomically writes it to destination.
func (generator *Generator) GenerateFull(tree *types.TreeNode, destination string, format Format) (Summary, error) {
	content, summary, renderError := generator.Render(tree, format)
	if renderError != nil {
		return Summary{}, renderError
	}
	if writeError := WriteFileAtomic(destination, []byte(content)); writeError != nil {
		return Summary{}, writeError
	}
	generator.logger.Debug(debugDocumentWritten, zap.String("path", destination), zap.Int("files", summary.Files))
	return summary, nil
}

// Render returns the document text: a header, the pruned structure diagram
// and one section per selected file in path order.
func (generator *Generator) Render(tree *types.TreeNode, format Format) (string, Summary, error) {
	definition := format.syntax()
	var builder strings.Builder
	builder.WriteString(definition.header(documentLevel, definition.documentTitle))
	builder.WriteString("\n\n")
	builder.WriteString(definition.header(blockLevel, definition.structureTitle))
	builder.WriteString("\n")
	builder.WriteString(definition.structureOpen)
	builder.WriteString(generator.renderStructure(tree, definition))
	builder.WriteString(definition.structureClose)
	builder.WriteString("\n\n")
	builder.WriteString(definition.header(blockLevel, definition.filesTitle))
	builder.WriteString("\n\n")

	var summary Summary
	sections := make([]string, 0, len(generator.selectedFiles))
	for _, filePath := range generator.orderedFiles() {
		section, rendered, sectionError := generator.renderSection(filePath, definition)
		if sectionError != nil {
			return "", Summary{}, sectionError
		}
		sections = append(sections, section)
		summary.Files++
		summary.Bytes += rendered.size
		if rendered.lossy {
			summary.LossyFiles++
		}
	}
	builder.WriteString(strings.Join(sections, "\n\n"))
	builder.WriteString("\n")
	return builder.String(), summary, nil
}

// orderedFiles returns the selected files ordered by their slash-separated
// path relative to the root.
func (generator *Generator) orderedFiles() []string {
	ordered := append([]string(nil), generator.selectedFiles...)
	sort.SliceStable(ordered, func(leftIndex, rightIndex int) bool {
		return filepath.ToSlash(ordered[leftIndex]) < filepath.ToSlash(ordered[rightIndex])
	})
	return ordered
}

// RenderStructure draws the box diagram of tree restricted to selected files
// and the directories leading to them. Every line ends with a newline.
func (generator *Generator) RenderStructure(tree *types.TreeNode) string {
	if tree == nil {
		return ""
	}
	return generator.renderDiagram(tree, tree.Name)
}

// renderStructure draws the diagram for a structure block of the given
// syntax. Child lines start with a connector, so only the root line can be
// taken for a delimiter.
func (generator *Generator) renderStructure(tree *types.TreeNode, definition syntax) string {
	if tree == nil {
		return ""
	}
	return generator.renderDiagram(tree, definition.sanitize(tree.Name))
}

func (generator *Generator) renderDiagram(tree *types.TreeNode, rootLabel string) string {
	var builder strings.Builder
	builder.WriteString(rootLabel)
	builder.WriteString("\n")
	generator.renderChildren(&builder, tree, "")
	return builder.String()
}

func (generator *Generator) renderChildren(builder *strings.Builder, node *types.TreeNode, prefix string) {
	visible := make([]*types.TreeNode, 0, len(node.Children))
	for _, child := range node.Children {
		if generator.containsSelection(child) {
			visible = append(visible, child)
		}
	}
	for index, child := range visible {
		isLast := index == len(visible)-1
		connector, guide := connectorMiddle, guideContinue
		if isLast {
			connector, guide = connectorLast, guideBlank
		}
		builder.WriteString(prefix)
		builder.WriteString(connector)
		builder.WriteString(child.Name)
		if child.IsDirectory {
			builder.WriteString(directorySuffix)
		}
		builder.WriteString("\n")
		if child.IsDirectory {
			generator.renderChildren(builder, child, prefix+guide)
		}
	}
}

func (generator *Generator) containsSelection(node *types.TreeNode) bool {
	found := false
	node.Walk(func(current *types.TreeNode) bool {
		if found {
			return false
		}
		if !current.IsDirectory {
			_, found = generator.selected[current.Path]
		}
		return !found
	})
	return found
}

type renderedSection struct {
	size  int64
	lossy bool
}

// renderSection renders the header and code block of one file without a trailing newline.
func (generator *Generator) renderSection(filePath string, definition syntax) (string, renderedSection, error) {
	relativePath, relativeError := utils.RelativeSlashPath(generator.rootDirectoryPath, filePath)
	if relativeError != nil || relativePath == "." {
		return "", renderedSection{}, types.NewOperationError(operationRenderSection, filePath, types.ErrPathOutsideRoot, relativeError)
	}
	data, readError := os.ReadFile(filePath)
	if readError != nil {
		return "", renderedSection{}, types.NewOperationError(operationRenderSection, filePath, types.ErrIO, readError)
	}

	text, lossy := decodeText(data)
	content := definition.sanitize(strings.TrimSpace(text))
	if lossy {
		generator.logger.Warn(warningLossyDecode, zap.String("path", filePath), zap.Error(types.ErrNonUTF8Content))
		content = lossyWarning + "\n\n" + content
	}

	language := strings.TrimPrefix(filepath.Ext(filePath), ".")
	if language == "" {
		language = definition.emptyLanguage
	}

	var builder strings.Builder
	builder.WriteString(definition.header(sectionLevel, relativePath))
	builder.WriteString("\n\n")
	builder.WriteString(fmt.Sprintf(definition.sectionOpenFormat, language))
	builder.WriteString(content)
	builder.WriteString(definition.sectionClose)
	return builder.String(), renderedSection{size: int64(len(data)), lossy: lossy}, nil
}

// decodeText returns data as a string. Invalid UTF-8 is replaced with
// U+FFFD and reported as lossy.
func decodeText(data []byte) (string, bool) {
	if utf8.Valid(data) {
		return string(data), false
	}
	decoded, decodeError := unicode.UTF8.NewDecoder().Bytes(data)
	if decodeError != nil {
		return strings.ToValidUTF8(string(data), string(utf8.RuneError)), true
	}
	return string(decoded), true
}

// UpdateSection re-renders the section of changedFile inside the document at
// destination and atomically rewrites the document. The error unwraps to
// types.ErrSectionNotFound when the document has no section for the file;
// callers should regenerate the whole document then.
func (generator *Generator) UpdateSection(destination string, changedFile string, format Format) error {
	definition := format.syntax()
	existing, readError := os.ReadFile(destination)
	if readError != nil {
		kind := types.ErrIO
		if errors.Is(readError, fs.ErrNotExist) {
			kind = types.ErrSectionNotFound
		}
		return types.NewOperationError(operationUpdateSection, destination, kind, readError)
	}

	relativePath, relativeError := utils.RelativeSlashPath(generator.rootDirectoryPath, changedFile)
	if relativeError != nil || relativePath == "." {
		return types.NewOperationError(operationUpdateSection, changedFile, types.ErrPathOutsideRoot, relativeError)
	}
	header := definition.header(sectionLevel, relativePath)
	documentText := string(existing)
	start, end, found := locateSection(documentText, header, definition)
	if !found {
		return types.NewOperationError(operationUpdateSection, destination, types.ErrSectionNotFound, fmt.Errorf(errorHeaderMissingFormat, header))
	}

	section, _, renderError := generator.renderSection(changedFile, definition)
	if renderError != nil {
		return renderError
	}
	updated := documentText[:start] + section + documentText[end:]
	if writeError := WriteFileAtomic(destination, []byte(updated)); writeError != nil {
		return writeError
	}
	generator.logger.Debug(debugSectionPatched, zap.String("path", destination), zap.String("section", relativePath))
	return nil
}

// locateSection finds the span of the section introduced by header. The span
// starts at the header line and ends before the next header of the same or a
// higher level outside any delimited block, excluding the newlines that
// separate it from that header.
func locateSection(documentText string, header string, definition syntax) (int, int, bool) {
	start := -1
	end := len(documentText)
	insideBlock := false
	for offset := 0; offset < len(documentText); {
		lineLength := strings.IndexByte(documentText[offset:], '\n')
		next := offset + lineLength + 1
		if lineLength < 0 {
			lineLength = len(documentText) - offset
			next = len(documentText)
		}
		line := documentText[offset : offset+lineLength]

		switch {
		case definition.isDelimiter(line):
			insideBlock = !insideBlock
		case insideBlock:
		case start < 0:
			if line == header {
				start = offset
			}
		default:
			if level := definition.headerLevel(line); level > 0 && level <= sectionLevel {
				end = offset
				next = len(documentText)
			}
		}
		offset = next
	}
	if start < 0 {
		return 0, 0, false
	}
	for end > start && documentText[end-1] == '\n' {
		end--
	}
	return start, end, true
}
