package vault

import (
	"regexp"
	"strings"
)

var unsafeNameSeparators = regexp.MustCompile(`[/\\<>:"|?*]`)

// safeName rejects "." and ".." and any name carrying a platform path
// separator (the Windows set is checked unconditionally so a snapshot
// built on one platform stays safe to render on another).
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !unsafeNameSeparators.MatchString(name)
}

// keyPair is one <ownerHandle>:<ciphertext> segment of a node's k field.
type keyPair struct {
	owner      string
	ciphertext []byte
}

// splitNodeKeyField parses the k field: a concatenation of
// "<ownerHandle>:<base64ciphertext>" segments separated by "/".
func splitNodeKeyField(k string) []keyPair {
	var out []keyPair
	for _, seg := range strings.Split(k, "/") {
		idx := strings.IndexByte(seg, ':')
		if idx < 0 {
			continue
		}
		owner := seg[:idx]
		ct, err := ub64dec(seg[idx+1:])
		if err != nil {
			continue
		}
		out = append(out, keyPair{owner: owner, ciphertext: ct})
	}
	return out
}

// resolveNodeKey picks the first pair whose owner key is available,
// preferring our own mk when ownerHandle == uh. This is the
// first-resolvable-key-wins policy: iterate the pairs in wire order and
// stop at the first one this session can decrypt.
func resolveNodeKey(pairs []keyPair, uh string, mk []byte, shareKeys map[string][]byte) []byte {
	for _, p := range pairs {
		var key []byte
		if p.owner == uh {
			key = mk
		} else if sk, ok := shareKeys[p.owner]; ok {
			key = sk
		} else {
			continue
		}
		return aesDec(key, p.ciphertext)
	}
	return nil
}

// importNode turns one raw f-entry into a Node, or nil if it cannot be
// admitted (unresolvable key, bad attribute magic, or unsafe name).
func importNode(raw *rawNode, uh string, mk []byte, shareKeys map[string][]byte) *Node {
	pairs := splitNodeKeyField(raw.K)
	decrypted := resolveNodeKey(pairs, uh, mk, shareKeys)
	if decrypted == nil {
		return nil
	}

	nodeType := NodeType(raw.T)
	var key, keyFull []byte
	if nodeType == NodeFile {
		if len(decrypted) < 32 {
			return nil
		}
		keyFull = decrypted[:32]
		key = fileNodeKeyUnpack(keyFull)
	} else {
		if len(decrypted) < 16 {
			return nil
		}
		key = decrypted[:16]
	}

	var attrs map[string]any
	var name string
	switch nodeType {
	case NodeRoot:
		name = "Root"
	case NodeInbox:
		name = "Inbox"
	case NodeRubbish:
		name = "Rubbish"
	default:
		a, err := decodeNodeAttrs(key, raw.A)
		if err != nil || a == nil {
			return nil
		}
		attrs = a
		n, _ := a["n"].(string)
		if !safeName(n) {
			return nil
		}
		name = n
	}

	parent := raw.P
	if parent == "" {
		parent = topHandle
	}

	n := &Node{
		Handle:       raw.H,
		ParentHandle: parent,
		SuHandle:     raw.SU,
		User:         raw.U,
		Type:         nodeType,
		Size:         raw.S,
		Key:          key,
		KeyFull:      keyFull,
		Attrs:        attrs,
		Name:         name,
	}
	if raw.TS != 0 {
		n.MTime = unixSeconds(raw.TS)
	}
	return n
}

// importNodeShareKey handles the optional sk field: decode first, then
// dispatch on ciphertext length (RSA for anything over 16 bytes, plain
// AES-ECB wrap for exactly 16), returning only the first 16 bytes to
// install as the share key for this node's own handle.
func importNodeShareKey(sk string, mk []byte, pubDER, privWrapped []byte) []byte {
	if sk == "" {
		return nil
	}
	esk, err := ub64dec(sk)
	if err != nil {
		return nil
	}
	var plain []byte
	if len(esk) > 16 {
		plain, err = rsaDecrypt(pubDER, privWrapped, mk, esk)
		if err != nil {
			return nil
		}
	} else if len(esk) == 16 {
		plain = aesDec(mk, esk)
	} else {
		return nil
	}
	if len(plain) < 16 {
		return nil
	}
	return plain[:16]
}
