package mega

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestTree() *NodeTree {
	nodes := []*Node{
		{Handle: "root", Kind: KindFolder, Name: "root"},
		{Handle: "sub", ParentHandle: "root", Kind: KindFolder, Name: "sub"},
		{Handle: "file1", ParentHandle: "sub", Kind: KindFile, Name: "a.bin", Size: 10},
		// dangling parent: "ghost" doesn't exist in the set.
		{Handle: "file2", ParentHandle: "ghost", Kind: KindFile, Name: "b.bin", Size: 20},
	}
	return newNodeTree(nodes)
}

func TestNewNodeTreeNormalizesDanglingParents(t *testing.T) {
	tree := buildTestTree()
	require.Len(t, tree.Roots(), 2) // "root" and "file2" (dangling parent rewritten to root)
	f2 := tree.Get("file2")
	require.NotNil(t, f2)
	require.Equal(t, "", f2.ParentHandle)
}

func TestNodeTreeChildrenAndGet(t *testing.T) {
	tree := buildTestTree()
	require.Equal(t, "sub", tree.Children("root")[0].Handle)
	require.Equal(t, "file1", tree.Children("sub")[0].Handle)
	require.Nil(t, tree.Get("missing"))
}

func TestNodeTreeGetByPath(t *testing.T) {
	tree := buildTestTree()
	n, err := tree.GetByPath("/root/sub/a.bin")
	require.NoError(t, err)
	require.Equal(t, "file1", n.Handle)

	_, err = tree.GetByPath("root/sub/missing.bin")
	require.ErrorIs(t, err, ENOENT)

	_, err = tree.GetByPath("")
	require.ErrorIs(t, err, ENOENT)
}

func TestNodeTreePathOf(t *testing.T) {
	tree := buildTestTree()
	path, err := tree.PathOf("file1")
	require.NoError(t, err)
	require.Equal(t, "root/sub/a.bin", path)

	_, err = tree.PathOf("missing")
	require.ErrorIs(t, err, ENOENT)
}

func TestNodeTreeLenAndIter(t *testing.T) {
	tree := buildTestTree()
	require.Equal(t, 4, tree.Len())
	require.Len(t, tree.Iter(), 4)
}
