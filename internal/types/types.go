// Package types defines every cross-package data structure used by ctxsync.
package types

import "strings"

const (
	NodeTypeFile      = "file"
	NodeTypeDirectory = "directory"

	FormatRaw  = "raw"
	FormatJSON = "json"
)

// TreeNode is one entry of a scanned project tree. Nodes are built once per
// scan and never mutated afterwards; a rescan produces a new tree.
type TreeNode struct {
	Name        string      `json:"name"`
	Path        string      `json:"path"`
	IsDirectory bool        `json:"isDirectory"`
	Children    []*TreeNode `json:"children,omitempty"`
}

// Type reports the node kind as used by tree output.
func (node *TreeNode) Type() string {
	if node.IsDirectory {
		return NodeTypeDirectory
	}
	return NodeTypeFile
}

// Walk visits node and every descendant depth first in child order.
// Returning false from visit prunes the subtree below the visited node.
func (node *TreeNode) Walk(visit func(*TreeNode) bool) {
	if node == nil {
		return
	}
	if !visit(node) {
		return
	}
	for _, child := range node.Children {
		child.Walk(visit)
	}
}

// NodeLess orders siblings: directories before files, then case-insensitive
// name order. Exact name order breaks ties so the ordering is total.
func NodeLess(left *TreeNode, right *TreeNode) bool {
	if left.IsDirectory != right.IsDirectory {
		return left.IsDirectory
	}
	leftName := strings.ToLower(left.Name)
	rightName := strings.ToLower(right.Name)
	if leftName != rightName {
		return leftName < rightName
	}
	return left.Name < right.Name
}

// SelectionState is the tri-state selection value of a tree node.
type SelectionState int

const (
	Unselected SelectionState = iota
	Selected
	PartiallySelected
)

// String returns a lower-case label for the state.
func (state SelectionState) String() string {
	switch state {
	case Selected:
		return "selected"
	case PartiallySelected:
		return "partial"
	default:
		return "unselected"
	}
}
