package vault

import "time"

// NodeType is the server's opaque node classification.
type NodeType int

const (
	NodeFile    NodeType = 0
	NodeFolder  NodeType = 1
	NodeRoot    NodeType = 2
	NodeInbox   NodeType = 3
	NodeRubbish NodeType = 4
	NodeContact NodeType = 8
	NodeNetwork NodeType = 9
	NodeTop     NodeType = 10
)

// Sentinel handles for the two synthesised virtual nodes.
const (
	topHandle     = "*TOP*"
	networkHandle = "*NETWORK"
)

// Node is a single decrypted, name-bearing entry in the filesystem tree.
type Node struct {
	Handle       string
	ParentHandle string
	SuHandle     string // share-origin owner; may coexist with ParentHandle
	User         string
	Type         NodeType
	Size         int64
	MTime        time.Time
	Key          []byte // 16 bytes, decrypted
	KeyFull      []byte // 32 bytes, files only
	Attrs        map[string]any
	Name         string
	Path         string
}

// Snapshot is the full filesystem materialisation: nodes by
// handle, share keys by handle, nodes by resolved path, and children by
// parent handle.
type Snapshot struct {
	Nodes      map[string]*Node
	ShareKeys  map[string][]byte
	PathMap    map[string]*Node
	Children   map[string][]*Node
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		Nodes:     map[string]*Node{},
		ShareKeys: map[string][]byte{},
		PathMap:   map[string]*Node{},
		Children:  map[string][]*Node{},
	}
}

// Record is the persisted session record.
type Record struct {
	UH           string
	Email        string
	Name         string
	MK           []byte
	PK           []byte
	PubK         []byte
	PrivK        []byte // MK-wrapped as received; unwrapped with MK on each use, never stored unwrapped
	SID          string
	SIDParamName string // "sid" or "n" for exported-folder mode
	Saved        int64  // epoch millis
}

// rawNode is the wire shape of one entry in the `f` array of an `a:'f'`
// response.
type rawNode struct {
	H    string `json:"h"`
	P    string `json:"p,omitempty"`
	SU   string `json:"su,omitempty"`
	U    string `json:"u,omitempty"`
	T    int    `json:"t"`
	S    int64  `json:"s,omitempty"`
	TS   int64  `json:"ts,omitempty"`
	A    string `json:"a"`
	K    string `json:"k"`
	SK   string `json:"sk,omitempty"`
}

// rawShareKey is the wire shape of one entry in the `ok` array.
type rawShareKey struct {
	H  string `json:"h"`
	HA string `json:"ha"`
	K  string `json:"k"`
}

// rawContact is the wire shape of one entry in the `u` array.
type rawContact struct {
	U string `json:"u"`
	C int    `json:"c"`
	M string `json:"m,omitempty"`
}

// filesystemResponse is the decoded {a:'f', c:1, r:1} RPC result.
type filesystemResponse struct {
	OK []rawShareKey `json:"ok"`
	F  []rawNode     `json:"f"`
	U  []rawContact  `json:"u"`
}

// loginResponse is the decoded `us` RPC result.
type loginResponse struct {
	K     string `json:"k"`
	CSID  string `json:"csid,omitempty"`
	TSID  string `json:"tsid,omitempty"`
	PrivK string `json:"privk,omitempty"`
	PubK  string `json:"pubk,omitempty"`
	U     string `json:"u"`
	V     int    `json:"v,omitempty"` // account version; 2 selects PBKDF2 PK
	S     string `json:"s,omitempty"` // salt, base64url, when v==2
}

// userResponse is the decoded `ug` RPC result.
type userResponse struct {
	U     string `json:"u"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	PubK  string `json:"pubk,omitempty"`
	PrivK string `json:"privk,omitempty"`
}
