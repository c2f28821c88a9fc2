// Package output renders scan results and generation summaries for the terminal.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/temirov/ctxsync/internal/document"
	"github.com/temirov/ctxsync/internal/types"
	"github.com/temirov/ctxsync/internal/utils"
)

const (
	indentPrefix = ""
	indentSpacer = "  "

	treeBranchConnector = "├── "
	treeLastConnector   = "└── "
	treeBranchPadding   = "│   "
	treeLastPadding     = "    "
	directorySuffix     = "/"

	summaryFormat      = "Wrote %d %s (%s) to %s"
	lossySummaryFormat = "; %d decoded with replacement characters"
	fileWordSingular   = "file"
	fileWordPlural     = "files"
)

// treeOutputNode is the JSON shape of a tree node.
type treeOutputNode struct {
	Path     string            `json:"path"`
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Children []*treeOutputNode `json:"children,omitempty"`
}

func newTreeOutputNode(node *types.TreeNode) *treeOutputNode {
	outputNode := &treeOutputNode{Path: node.Path, Name: node.Name, Type: node.Type()}
	for _, child := range node.Children {
		outputNode.Children = append(outputNode.Children, newTreeOutputNode(child))
	}
	return outputNode
}

// RenderTreeRaw returns the tree as an indented box diagram, one entry per
// line. The first line is the root's absolute path.
func RenderTreeRaw(tree *types.TreeNode) string {
	if tree == nil {
		return ""
	}
	var buffer bytes.Buffer
	buffer.WriteString(tree.Path + "\n")
	renderTreeChildren(&buffer, tree.Children, "")
	return buffer.String()
}

func renderTreeChildren(buffer *bytes.Buffer, children []*types.TreeNode, prefix string) {
	for index, child := range children {
		connector := treeBranchConnector
		padding := treeBranchPadding
		if index == len(children)-1 {
			connector = treeLastConnector
			padding = treeLastPadding
		}
		buffer.WriteString(prefix + connector + child.Name)
		if child.IsDirectory {
			buffer.WriteString(directorySuffix)
		}
		buffer.WriteString("\n")
		if child.IsDirectory {
			renderTreeChildren(buffer, child.Children, prefix+padding)
		}
	}
}

// RenderTreeJSON marshals the tree as indented JSON.
func RenderTreeJSON(tree *types.TreeNode) (string, error) {
	if tree == nil {
		return "null", nil
	}
	encoded, jsonEncodeError := json.MarshalIndent(newTreeOutputNode(tree), indentPrefix, indentSpacer)
	return string(encoded), jsonEncodeError
}

// RenderSummary describes a written document in one line.
func RenderSummary(summary document.Summary, destination string) string {
	fileWord := fileWordPlural
	if summary.Files == 1 {
		fileWord = fileWordSingular
	}
	line := fmt.Sprintf(summaryFormat, summary.Files, fileWord, utils.FormatFileSize(summary.Bytes), destination)
	if summary.LossyFiles > 0 {
		line += fmt.Sprintf(lossySummaryFormat, summary.LossyFiles)
	}
	return line
}
