package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeFileNodeRaw(t *testing.T, handle, parent, uh string, mk []byte, name string) (rawNode, []byte) {
	t.Helper()
	fullKey := random(32)
	attrKey := fileNodeKeyUnpack(fullKey)
	attrs, err := encodeNodeAttrs(attrKey, map[string]any{"n": name})
	require.NoError(t, err)

	ct := aesEnc(mk, alignbuf(fullKey, 16, false))
	k := uh + ":" + ub64enc(ct)

	return rawNode{H: handle, P: parent, U: uh, T: int(NodeFile), A: attrs, K: k}, fullKey
}

func makeFolderNodeRaw(handle, parent, uh string, mk []byte, nodeType NodeType) rawNode {
	folderKey := random(16)
	ct := aesEnc(mk, folderKey)
	k := uh + ":" + ub64enc(ct)
	return rawNode{H: handle, P: parent, U: uh, T: int(nodeType), K: k}
}

func TestFilesystemEndToEndScenario(t *testing.T) {
	mk := random(16)
	uh := "uh1234567890"
	rec := &Record{UH: uh, MK: mk}

	shareHandle := "HHHHHHHH"
	shareKey := random(16)
	ha := aesEnc(mk, []byte(shareHandle+shareHandle))

	root := makeFolderNodeRaw("ROOT1", "", uh, mk, NodeRoot)
	fileRaw, fullKey := makeFileNodeRaw(t, "FILE1", "ROOT1", uh, mk, "hello.txt")

	resp := &filesystemResponse{
		OK: []rawShareKey{{H: shareHandle, HA: ub64enc(ha), K: ub64enc(aesEnc(mk, alignbuf(shareKey, 16, false)))}},
		F:  []rawNode{root, fileRaw},
	}

	snap := buildFilesystem(resp, rec)

	require.Contains(t, snap.ShareKeys, shareHandle)
	assert.Equal(t, shareKey, snap.ShareKeys[shareHandle])

	node, ok := snap.Nodes["FILE1"]
	require.True(t, ok)
	assert.Equal(t, fullKey, node.KeyFull)
	assert.Equal(t, "hello.txt", node.Name)
	assert.Equal(t, "Root/hello.txt", node.Path)
}

func TestFilesystemAdmittedCountBounded(t *testing.T) {
	mk := random(16)
	uh := "uh1234567890"
	rec := &Record{UH: uh, MK: mk}

	good, _ := makeFileNodeRaw(t, "FILE1", "", uh, mk, "good.txt")
	bad := rawNode{H: "FILE2", U: "otheruser", T: int(NodeFile), A: "garbage", K: "otheruser:notbase64"}

	resp := &filesystemResponse{F: []rawNode{good, bad}}
	snap := buildFilesystem(resp, rec)

	assert.LessOrEqual(t, len(snap.Nodes)-2 /* *TOP* and *NETWORK */, len(resp.F))
	_, ok := snap.Nodes["FILE2"]
	assert.False(t, ok)
	_, ok = snap.Nodes["FILE1"]
	assert.True(t, ok)
}

func TestFilesystemPathMapInjective(t *testing.T) {
	mk := random(16)
	uh := "uh1234567890"
	rec := &Record{UH: uh, MK: mk}

	n1, _ := makeFileNodeRaw(t, "FILE1", "", uh, mk, "same.txt")
	n2, _ := makeFileNodeRaw(t, "FILE2", "", uh, mk, "same.txt")

	resp := &filesystemResponse{F: []rawNode{n1, n2}}
	snap := buildFilesystem(resp, rec)

	paths := map[string]bool{}
	for _, n := range snap.Nodes {
		if n.Handle == topHandle || n.Handle == networkHandle {
			continue
		}
		assert.False(t, paths[n.Path], "duplicate path %s", n.Path)
		paths[n.Path] = true
	}
}

func TestFilesystemShareKeyAuthenticationRejectsBadHA(t *testing.T) {
	mk := random(16)
	rec := &Record{UH: "uh1234567890", MK: mk}

	resp := &filesystemResponse{
		OK: []rawShareKey{{H: "HHHHHHHH", HA: ub64enc(random(16)), K: ub64enc(random(16))}},
	}
	snap := buildFilesystem(resp, rec)
	assert.Empty(t, snap.ShareKeys)
}

func TestSafeNameBoundaries(t *testing.T) {
	assert.False(t, safeName("."))
	assert.False(t, safeName(".."))
	assert.False(t, safeName("a/b"))
	assert.False(t, safeName("a\\b"))
	assert.False(t, safeName(""))
	assert.True(t, safeName("normal-name.txt"))
}
