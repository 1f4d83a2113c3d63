package vault

import "time"

func unixSeconds(ts int64) time.Time { return time.Unix(ts, 0).UTC() }

// buildFilesystem materialises one f-response into a full Snapshot:
// share keys, then nodes, then the virtual *TOP*/*NETWORK subtree, then
// paths and child indexes. This replaces the prior snapshot
// wholesale; there is no incremental update.
func buildFilesystem(resp *filesystemResponse, rec *Record) *Snapshot {
	snap := newSnapshot()

	// Exported-folder mode has no owning user; the node graph's own k
	// fields wrap each key against the folder handle itself, so that
	// handle's key must be seeded before node import can resolve it.
	if rec.SIDParamName == "n" {
		snap.ShareKeys[rec.SID] = rec.MK
	}

	for _, ok := range resp.OK {
		ha, err := ub64dec(ok.HA)
		if err != nil || !checkShareKeyHandle(rec.MK, ok.H, ha) {
			logWarn("dropping unauthenticated share key for handle %s", ok.H)
			continue
		}
		k, err := ub64dec(ok.K)
		if err != nil {
			continue
		}
		sk := aesDec(rec.MK, k)
		if len(sk) < 16 {
			continue
		}
		snap.ShareKeys[ok.H] = sk[:16]
	}

	for i := range resp.F {
		raw := &resp.F[i]
		n := importNode(raw, rec.UH, rec.MK, snap.ShareKeys)
		if n == nil {
			logWarn("dropping unimportable node %s", raw.H)
			continue
		}
		if raw.SK != "" {
			if sk := importNodeShareKey(raw.SK, rec.MK, rec.PubK, rec.PrivK); sk != nil {
				snap.ShareKeys[n.Handle] = sk
			}
		}
		snap.Nodes[n.Handle] = n
	}

	if rec.SIDParamName == "n" && len(resp.F) > 0 {
		installExportedFolderRoot(snap, resp.F[0].H, rec.MK)
	}

	installVirtualNodes(snap, resp.U)
	computePaths(snap)
	indexChildren(snap)
	return snap
}

// installVirtualNodes synthesises *TOP* and *NETWORK, plus one CONTACT
// node per accepted (c==1) u entry.
func installVirtualNodes(snap *Snapshot, contacts []rawContact) {
	top := &Node{Handle: topHandle, Type: NodeTop, Name: "", ParentHandle: ""}
	network := &Node{Handle: networkHandle, Type: NodeNetwork, Name: "Contacts", ParentHandle: topHandle}
	snap.Nodes[topHandle] = top
	snap.Nodes[networkHandle] = network

	for _, c := range contacts {
		if c.C != 1 {
			continue
		}
		name := c.M
		if name == "" {
			name = c.U
		}
		snap.Nodes[c.U] = &Node{
			Handle:       c.U,
			ParentHandle: networkHandle,
			Type:         NodeContact,
			Name:         name,
		}
	}
}

// computePaths walks each node to the root via parent_handle then
// su_handle, joins the collected names with "/", and suffixes
// collisions with ".<handle>" so pathMap stays injective. The walk
// depth is capped at the node count, per the graph's defensiveness
// requirement against parent/share cycles.
func computePaths(snap *Snapshot) {
	memo := map[string]string{topHandle: "", networkHandle: "Contacts"}
	maxDepth := len(snap.Nodes) + 1

	var resolve func(handle string, depth int) string
	resolve = func(handle string, depth int) string {
		if p, ok := memo[handle]; ok {
			return p
		}
		if depth > maxDepth {
			logWarn("path resolution exceeded depth cap at %s, possible cycle", handle)
			return handle
		}
		n, ok := snap.Nodes[handle]
		if !ok {
			return ""
		}
		parent := n.ParentHandle
		if parent == "" && n.SuHandle != "" {
			parent = n.SuHandle
		}
		if parent == "" {
			parent = topHandle
		}
		parentPath := resolve(parent, depth+1)
		var full string
		if parentPath == "" {
			full = n.Name
		} else {
			full = parentPath + "/" + n.Name
		}
		memo[handle] = full
		return full
	}

	for handle, n := range snap.Nodes {
		if handle == topHandle || handle == networkHandle {
			continue
		}
		p := resolve(handle, 0)
		if _, collide := snap.PathMap[p]; collide {
			p = p + "." + handle
		}
		n.Path = p
		snap.PathMap[p] = n
	}
}

// indexChildren indexes every node under both its parent_handle and, if
// present, its su_handle, so shared subtrees appear under the sharer
// too.
func indexChildren(snap *Snapshot) {
	for _, n := range snap.Nodes {
		if n.Handle == topHandle || n.Handle == networkHandle {
			continue
		}
		if n.ParentHandle != "" {
			snap.Children[n.ParentHandle] = append(snap.Children[n.ParentHandle], n)
		}
		if n.SuHandle != "" && n.SuHandle != n.ParentHandle {
			snap.Children[n.SuHandle] = append(snap.Children[n.SuHandle], n)
		}
	}
}

// installExportedFolderRoot treats the first node of a filesystem load
// under exported-folder mode as the root: its parent is forced null and
// its mk is registered as the folder's own share key.
func installExportedFolderRoot(snap *Snapshot, rootHandle string, mk []byte) {
	if n, ok := snap.Nodes[rootHandle]; ok {
		n.ParentHandle = ""
		n.SuHandle = ""
	}
	snap.ShareKeys[rootHandle] = mk
}
