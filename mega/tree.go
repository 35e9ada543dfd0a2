package mega

import "strings"

// NodeKind distinguishes file nodes from folder nodes (spec §3).
type NodeKind int

const (
	KindFile NodeKind = iota
	KindFolder
)

// Node is an entry in a public tree (spec §3). Immutable once built.
type Node struct {
	Handle       string
	ParentHandle string // empty means root
	Kind         NodeKind
	Name         string
	Size         int64

	AESKey []byte // 16 bytes, always present
	AESIV  []byte // 8 bytes, files only; nil for folders

	RootHandle string // the public link's root id, used as the `n` query param
}

// NodeTree is an acyclic handle -> Node map plus its root set (spec §3).
type NodeTree struct {
	nodes    map[string]*Node
	children map[string][]*Node
	roots    []*Node
}

// newNodeTree normalizes a flat node list into a forest: any ParentHandle not
// present in the set is rewritten to "" (spec §4.4 step 4, §9 "Parent/child
// edges").
func newNodeTree(nodes []*Node) *NodeTree {
	t := &NodeTree{
		nodes:    make(map[string]*Node, len(nodes)),
		children: make(map[string][]*Node),
	}
	for _, n := range nodes {
		t.nodes[n.Handle] = n
	}
	for _, n := range nodes {
		if n.ParentHandle != "" {
			if _, ok := t.nodes[n.ParentHandle]; !ok {
				n.ParentHandle = ""
			}
		}
	}
	for _, n := range nodes {
		if n.ParentHandle == "" {
			t.roots = append(t.roots, n)
		} else {
			t.children[n.ParentHandle] = append(t.children[n.ParentHandle], n)
		}
	}
	return t
}

// Get returns the node for handle, or nil if absent.
func (t *NodeTree) Get(handle string) *Node {
	return t.nodes[handle]
}

// Roots returns the nodes whose parent is not present in the tree.
func (t *NodeTree) Roots() []*Node {
	return t.roots
}

// Children returns the direct children of handle (empty for files or leaf
// folders).
func (t *NodeTree) Children(handle string) []*Node {
	return t.children[handle]
}

// GetByPath resolves a "/"-separated path (leading "/" stripped) starting
// from the tree's roots (spec §4.4). Each segment must match a child's Name
// exactly.
func (t *NodeTree) GetByPath(path string) (*Node, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil, ENOENT
	}
	segments := strings.Split(path, "/")

	candidates := t.roots
	var current *Node
	for _, seg := range segments {
		current = nil
		for _, n := range candidates {
			if n.Name == seg {
				current = n
				break
			}
		}
		if current == nil {
			return nil, ENOENT
		}
		candidates = t.children[current.Handle]
	}
	return current, nil
}

// Iter returns every node in the tree, in no particular order.
func (t *NodeTree) Iter() []*Node {
	out := make([]*Node, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n)
	}
	return out
}

// Len returns the number of nodes in the tree.
func (t *NodeTree) Len() int {
	return len(t.nodes)
}

// PathOf rebuilds the "/"-separated path of handle from its root down,
// walking ParentHandle links (spec §4.4: the download engine mirrors this
// path under the destination directory). Returns ENOENT if handle is absent.
func (t *NodeTree) PathOf(handle string) (string, error) {
	n, ok := t.nodes[handle]
	if !ok {
		return "", ENOENT
	}
	segments := []string{n.Name}
	for n.ParentHandle != "" {
		parent, ok := t.nodes[n.ParentHandle]
		if !ok {
			break
		}
		segments = append([]string{parent.Name}, segments...)
		n = parent
	}
	return strings.Join(segments, "/"), nil
}
