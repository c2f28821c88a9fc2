package document

import (
	"strings"
)

// Format is the markup of a generated document. Exactly one is active per document.
type Format int

const (
	// Markdown uses # headers and ``` fences.
	Markdown Format = iota
	// AsciiDoc uses = headers and ---- delimited source blocks.
	AsciiDoc
)

const (
	formatMarkdownName = "markdown"
	formatAsciiDocName = "asciidoc"

	// DefaultBaseName is the file name, without extension, of a generated document.
	DefaultBaseName = "project_structure"
)

// ParseFormat converts a user-facing name into a Format.
func ParseFormat(value string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", formatMarkdownName, "md":
		return Markdown, true
	case formatAsciiDocName, "adoc":
		return AsciiDoc, true
	default:
		return Markdown, false
	}
}

// String returns the user-facing name of the format.
func (format Format) String() string {
	if format == AsciiDoc {
		return formatAsciiDocName
	}
	return formatMarkdownName
}

// Extension returns the file extension, without dot, of documents in this format.
func (format Format) Extension() string {
	if format == AsciiDoc {
		return "adoc"
	}
	return "md"
}

// DefaultFileName returns the default document file name for the format.
func (format Format) DefaultFileName() string {
	return DefaultBaseName + "." + format.Extension()
}

// syntax holds the format-specific templates.
type syntax struct {
	headerMarker      string
	documentTitle     string
	structureTitle    string
	filesTitle        string
	structureOpen     string
	structureClose    string
	sectionOpenFormat string
	sectionClose      string
	fence             string
	// fenceIsPrefix marks fences that may carry text after the delimiter.
	fenceIsPrefix bool
	escapedFence  string
	emptyLanguage string
}

var syntaxes = map[Format]syntax{
	Markdown: {
		headerMarker:      "#",
		documentTitle:     "Context",
		structureTitle:    "Project Structure",
		filesTitle:        "Files",
		structureOpen:     "```\n",
		structureClose:    "```",
		sectionOpenFormat: "```%s\n",
		sectionClose:      "\n```",
		fence:             "```",
		fenceIsPrefix:     true,
		escapedFence:      "\\`\\`\\`",
		emptyLanguage:     "",
	},
	AsciiDoc: {
		headerMarker:      "=",
		documentTitle:     "Context",
		structureTitle:    "Project Structure",
		filesTitle:        "Files",
		structureOpen:     "[source, text]\n----\n",
		structureClose:    "----",
		sectionOpenFormat: "[source, %s]\n----\n",
		sectionClose:      "\n----",
		fence:             "----",
		escapedFence:      "\\----",
		emptyLanguage:     "text",
	},
}

func (format Format) syntax() syntax {
	return syntaxes[format]
}

// header renders a header line of the given level without a trailing newline.
func (definition syntax) header(level int, title string) string {
	return strings.Repeat(definition.headerMarker, level) + " " + title
}

// headerLevel returns the level of a header line, or zero when line is not a header.
func (definition syntax) headerLevel(line string) int {
	level := 0
	for level < len(line) && line[level:level+1] == definition.headerMarker {
		level++
	}
	if level == 0 || level >= len(line) || line[level] != ' ' {
		return 0
	}
	return level
}

// isDelimiter reports whether line opens or closes a fenced block.
func (definition syntax) isDelimiter(line string) bool {
	if definition.fenceIsPrefix {
		return strings.HasPrefix(line, definition.fence)
	}
	return line == definition.fence
}

// sanitize escapes every delimiter occurrence so file content cannot close its block.
func (definition syntax) sanitize(content string) string {
	return strings.ReplaceAll(content, definition.fence, definition.escapedFence)
}
