// Package selection keeps the tri-state selection mirror of a scanned tree.
package selection

import (
	"sort"
	"strconv"

	"github.com/temirov/ctxsync/internal/types"
)

const (
	operationToggle      = "toggle selection"
	operationSelect      = "select"
	operationState       = "read selection state"
	operationSetExpanded = "set expanded"
	operationDescribe    = "describe node"
)

// NodeID identifies a node of the current mirror tree. Identifiers are
// reassigned by Build; use Lookup to translate a path after a rebuild.
type NodeID int

// RootID is the identifier of the root node of a non-empty model.
const RootID NodeID = 0

const noParent NodeID = -1

type selectionNode struct {
	name        string
	path        string
	isDirectory bool
	state       types.SelectionState
	expanded    bool
	parent      NodeID
	children    []NodeID
}

// Node is a read-only view of one mirror node.
type Node struct {
	ID          NodeID
	Name        string
	Path        string
	IsDirectory bool
	State       types.SelectionState
	Expanded    bool
	Parent      NodeID
	Children    []NodeID
}

// Model mirrors a scanned tree in an index arena and owns which files are
// selected. Directory states are derived from their children: Selected when
// every child is Selected, Unselected when every child is Unselected and
// PartiallySelected otherwise. A directory without children keeps the state
// it was given, like a file.
//
// A Model is not safe for concurrent use.
type Model struct {
	nodes       []selectionNode
	indexByPath map[string]NodeID
}

// NewModel returns an empty model.
func NewModel() *Model {
	return &Model{indexByPath: map[string]NodeID{}}
}

// Build replaces the mirror with one for root. Files selected before the
// rebuild stay selected when their path still exists, as do selected
// directories without children. Expansion flags carry over the same way.
func (model *Model) Build(root *types.TreeNode) {
	retainedSelection := make(map[string]struct{})
	retainedExpansion := make(map[string]bool)
	for _, existing := range model.nodes {
		if existing.isLeaf() && existing.state == types.Selected {
			retainedSelection[existing.path] = struct{}{}
		}
		retainedExpansion[existing.path] = existing.expanded
	}

	model.nodes = model.nodes[:0]
	model.indexByPath = make(map[string]NodeID)
	if root == nil {
		return
	}
	model.appendSubtree(root, noParent)

	for index := range model.nodes {
		current := &model.nodes[index]
		if expanded, known := retainedExpansion[current.path]; known {
			current.expanded = expanded
		} else {
			current.expanded = current.parent == noParent
		}
		if _, selected := retainedSelection[current.path]; selected && current.isLeaf() {
			current.state = types.Selected
		}
	}
	model.recomputeAll()
}

// appendSubtree adds node and its descendants in pre-order so that every
// child has a larger index than its parent.
func (model *Model) appendSubtree(treeNode *types.TreeNode, parent NodeID) NodeID {
	identifier := NodeID(len(model.nodes))
	model.nodes = append(model.nodes, selectionNode{
		name:        treeNode.Name,
		path:        treeNode.Path,
		isDirectory: treeNode.IsDirectory,
		parent:      parent,
	})
	model.indexByPath[treeNode.Path] = identifier

	if !treeNode.IsDirectory {
		return identifier
	}
	children := make([]NodeID, 0, len(treeNode.Children))
	for _, child := range treeNode.Children {
		children = append(children, model.appendSubtree(child, identifier))
	}
	model.nodes[identifier].children = children
	return identifier
}

// Toggle flips the effective selection of a node. A Selected node becomes
// Unselected, anything else becomes Selected; a directory applies the new
// state to its whole subtree. Ancestors are recomputed afterwards.
func (model *Model) Toggle(identifier NodeID) error {
	if !model.valid(identifier) {
		return unknownNodeError(operationToggle, identifier)
	}
	target := types.Selected
	if model.nodes[identifier].state == types.Selected {
		target = types.Unselected
	}
	model.apply(identifier, target)
	return nil
}

// Select marks a node and, for a directory, its whole subtree as selected.
func (model *Model) Select(identifier NodeID) error {
	if !model.valid(identifier) {
		return unknownNodeError(operationSelect, identifier)
	}
	model.apply(identifier, types.Selected)
	return nil
}

func (model *Model) apply(identifier NodeID, state types.SelectionState) {
	model.setSubtree(identifier, state)
	if model.nodes[identifier].isDirectory {
		model.recompute(identifier)
	}
	model.recomputeAncestors(identifier)
}

func (model *Model) setSubtree(identifier NodeID, state types.SelectionState) {
	current := &model.nodes[identifier]
	current.state = state
	for _, child := range current.children {
		model.setSubtree(child, state)
	}
}

// isLeaf reports whether the node takes its state directly instead of
// deriving it from children.
func (current selectionNode) isLeaf() bool {
	return len(current.children) == 0
}

func (model *Model) recomputeAncestors(identifier NodeID) {
	for parent := model.nodes[identifier].parent; parent != noParent; parent = model.nodes[parent].parent {
		model.recompute(parent)
	}
}

// recomputeAll derives every directory state from its children, bottom-up.
func (model *Model) recomputeAll() {
	for index := len(model.nodes) - 1; index >= 0; index-- {
		if model.nodes[index].isDirectory {
			model.recompute(NodeID(index))
		}
	}
}

func (model *Model) recompute(identifier NodeID) {
	current := &model.nodes[identifier]
	if current.isLeaf() {
		return
	}
	selectedChildren := 0
	unselectedChildren := 0
	for _, child := range current.children {
		switch model.nodes[child].state {
		case types.Selected:
			selectedChildren++
		case types.Unselected:
			unselectedChildren++
		}
	}
	switch len(current.children) {
	case selectedChildren:
		current.state = types.Selected
	case unselectedChildren:
		current.state = types.Unselected
	default:
		current.state = types.PartiallySelected
	}
}

// SelectedFiles returns the sorted paths of every selected file.
func (model *Model) SelectedFiles() []string {
	var selectedPaths []string
	for _, current := range model.nodes {
		if !current.isDirectory && current.state == types.Selected {
			selectedPaths = append(selectedPaths, current.path)
		}
	}
	sort.Strings(selectedPaths)
	return selectedPaths
}

// HasSelection reports whether at least one file is selected.
func (model *Model) HasSelection() bool {
	for _, current := range model.nodes {
		if !current.isDirectory && current.state == types.Selected {
			return true
		}
	}
	return false
}

// SetSelectedFiles replaces the selection with the given paths. A directory
// path selects its subtree; unknown paths are ignored. It returns the number
// of paths that matched a node.
func (model *Model) SetSelectedFiles(paths []string) int {
	for index := range model.nodes {
		model.nodes[index].state = types.Unselected
	}
	matched := 0
	for _, path := range paths {
		identifier, found := model.indexByPath[path]
		if !found {
			continue
		}
		matched++
		model.setSubtree(identifier, types.Selected)
	}
	model.recomputeAll()
	return matched
}

// ClearSelection unselects every node.
func (model *Model) ClearSelection() {
	model.SetSelectedFiles(nil)
}

// Lookup returns the identifier of the node with the given canonical path.
func (model *Model) Lookup(path string) (NodeID, bool) {
	identifier, found := model.indexByPath[path]
	return identifier, found
}

// State returns the selection state of a node.
func (model *Model) State(identifier NodeID) (types.SelectionState, error) {
	if !model.valid(identifier) {
		return types.Unselected, unknownNodeError(operationState, identifier)
	}
	return model.nodes[identifier].state, nil
}

// SetExpanded records whether a presentation layer shows the node expanded.
func (model *Model) SetExpanded(identifier NodeID, expanded bool) error {
	if !model.valid(identifier) {
		return unknownNodeError(operationSetExpanded, identifier)
	}
	model.nodes[identifier].expanded = expanded
	return nil
}

// Describe returns a snapshot of one node.
func (model *Model) Describe(identifier NodeID) (Node, error) {
	if !model.valid(identifier) {
		return Node{}, unknownNodeError(operationDescribe, identifier)
	}
	current := model.nodes[identifier]
	return Node{
		ID:          identifier,
		Name:        current.name,
		Path:        current.path,
		IsDirectory: current.isDirectory,
		State:       current.state,
		Expanded:    current.expanded,
		Parent:      current.parent,
		Children:    append([]NodeID(nil), current.children...),
	}, nil
}

// Len returns the number of nodes in the mirror.
func (model *Model) Len() int {
	return len(model.nodes)
}

func (model *Model) valid(identifier NodeID) bool {
	return identifier >= 0 && int(identifier) < len(model.nodes)
}

func unknownNodeError(operation string, identifier NodeID) error {
	return types.NewOperationError(operation, "#"+strconv.Itoa(int(identifier)), types.ErrPathNotFound, nil)
}
