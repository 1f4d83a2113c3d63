package vault

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/pkg/errors"
)

// State is where a Session sits in the Fresh → Credentialed → Open
// machine.
type State int

const (
	StateFresh State = iota
	StateCredentialed
	StateOpen
)

const freshnessWindow = time.Hour

var ephemeralPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// isEphemeral reports whether username looks like an 11-character
// opaque user handle rather than an email address, the account having
// been created without ever setting one.
func isEphemeral(username string) bool {
	return ephemeralPattern.MatchString(username)
}

// FS abstracts the three file operations a Session needs; the real
// filesystem and temp-dir locator are external collaborators.
type FS interface {
	TmpDir() string
	Read(path string) ([]byte, bool)
	Write(path string, data []byte) bool
	Remove(path string)
}

// Session owns one user's credentials, API client, and persisted
// on-disk blobs. Two Sessions are fully independent; nothing here is
// shared global state.
type Session struct {
	client *Client
	fs     FS

	state    State
	username string
	password string
	name     string // session blob name, "" for the default

	record   *Record
	snapshot *Snapshot

	forceCheck bool
}

// NewSession builds a Session against client and fs. The session starts
// Fresh; call SetCredentials to move to Credentialed.
func NewSession(client *Client, fs FS) *Session {
	return &Session{client: client, fs: fs, state: StateFresh}
}

// SetCredentials installs username/password and an optional session
// blob name, advancing Fresh → Credentialed.
func (s *Session) SetCredentials(username, password, name string) {
	s.username = username
	s.password = password
	s.name = name
	s.state = StateCredentialed
}

// State reports the current machine state.
func (s *Session) State() State { return s.state }

// Record returns the current session record, or nil before Open.
func (s *Session) Record() *Record { return s.record }

// ForceCheck(true) disables the freshness-window shortcut in Open,
// forcing a getUser round trip even for a just-saved blob, until it is
// reset with ForceCheck(false).
func (s *Session) ForceCheck(v bool) { s.forceCheck = v }

// Open runs the state machine's decision tree: resume from disk
// if possible, otherwise the login flow, landing in StateOpen.
func (s *Session) Open(ctx context.Context) error {
	if s.state == StateFresh {
		return ErrNoCredentials
	}
	pk := aesKeyFromPassword(s.password)

	if blob, ok := s.fs.Read(sessionBlobPath(s.fs.TmpDir(), pk, s.username, s.password, s.name)); ok {
		if plain, ok := decodeBlob(pk, s.username, s.password, s.name, blob); ok {
			var rec Record
			if err := json.Unmarshal(plain, &rec); err == nil {
				fresh := time.Since(time.UnixMilli(rec.Saved)) < freshnessWindow
				if fresh && !s.forceCheck {
					s.record = &rec
					s.installClientSID()
					s.loadSnapshotBlob(pk)
					s.state = StateOpen
					return nil
				}
				if err := s.resumeWithGetUser(ctx, &rec); err == nil {
					s.state = StateOpen
					return s.persist(pk)
				}
				// stale sid rejected; fall through to login flow
			}
		}
	}

	if err := s.loginFlow(ctx, pk); err != nil {
		return err
	}
	s.state = StateOpen
	return s.persist(pk)
}

// resumeWithGetUser tries the saved sid against getUser; success installs
// rec as the live record, failure (including ESID) propagates so the
// caller falls back to the login flow.
func (s *Session) resumeWithGetUser(ctx context.Context, rec *Record) error {
	s.client.SetSID(rec.SID, rec.SIDParamName)
	resp, err := s.client.Call(ctx, map[string]string{"a": "ug"})
	if err != nil {
		return err
	}
	var u userResponse
	if err := json.Unmarshal(resp, &u); err != nil {
		return errors.Wrap(err, "decode ug response")
	}
	rec.UH = u.U
	rec.Email = u.Email
	rec.Name = u.Name
	s.record = rec
	return nil
}

// loginFlow runs `us` (or ephemeral login) followed by `ug`, installing
// MK and SID from the TSID/CSID protocol.
func (s *Session) loginFlow(ctx context.Context, pk []byte) error {
	user := s.username
	if !isEphemeral(s.username) {
		user = makeUsernameHash(pk, s.username)
	}
	loginReq := map[string]any{"a": "us", "user": user}

	resp, err := s.client.Call(ctx, loginReq)
	if err != nil {
		return err
	}
	var lr loginResponse
	if err := json.Unmarshal(resp, &lr); err != nil {
		return errors.Wrap(err, "decode us response")
	}

	if lr.V == 2 {
		salt, _ := ub64dec(lr.S)
		pk = aesKeyFromPasswordV2(s.password, salt)
	}

	emk, err := ub64dec(lr.K)
	if err != nil {
		return ErrBadPassword
	}
	mk := aesDec(pk, emk)

	if err := Require(map[string]any{"csid": lr.CSID, "tsid": lr.TSID}, []string{"csid", "tsid"}, ModeOr); err != nil {
		return ErrEmptyResponse
	}

	var sid []byte
	var sidParam = "sid"
	switch {
	case lr.CSID != "":
		pubDER, _ := ub64dec(lr.PubK)
		privWrapped, _ := ub64dec(lr.PrivK)
		sid, err = decryptCSID(pubDER, privWrapped, mk, lr.CSID)
		if err != nil {
			return err
		}
	case lr.TSID != "":
		ok, decoded := checkTSID(lr.TSID, mk)
		if !ok {
			return ErrInvalidTSID
		}
		sid = decoded
	default:
		return ErrEmptyResponse
	}

	rec := &Record{
		UH:           lr.U,
		MK:           mk,
		PK:           pk,
		SID:          ub64enc(sid),
		SIDParamName: sidParam,
		Saved:        time.Now().UnixMilli(),
	}
	if lr.PubK != "" {
		rec.PubK, _ = ub64dec(lr.PubK)
	}
	if lr.PrivK != "" {
		rec.PrivK, _ = ub64dec(lr.PrivK)
	}

	s.client.SetSID(rec.SID, rec.SIDParamName)

	resp, err = s.client.Call(ctx, map[string]string{"a": "ug"})
	if err != nil {
		return err
	}
	var u userResponse
	if err := json.Unmarshal(resp, &u); err != nil {
		return errors.Wrap(err, "decode ug response")
	}
	rec.Email = u.Email
	rec.Name = u.Name

	s.record = rec
	return nil
}

// OpenExportedFolder bypasses login entirely: handle becomes the
// session id under the "n" parameter and mk becomes the session's
// master key.
func (s *Session) OpenExportedFolder(handle string, mk []byte) {
	s.record = &Record{
		SID:          handle,
		SIDParamName: "n",
		MK:           mk,
	}
	s.client.SetSID(handle, "n")
	s.state = StateOpen
}

// Close tears the session back down to Credentialed, removing both
// on-disk blobs.
func (s *Session) Close() {
	if s.record != nil {
		pk := s.record.PK
		s.fs.Remove(sessionBlobPath(s.fs.TmpDir(), pk, s.username, s.password, s.name))
		s.fs.Remove(sessionBlobPath(s.fs.TmpDir(), pk, s.username, s.password, "fs"))
	}
	s.record = nil
	s.snapshot = nil
	s.state = StateCredentialed
}

func (s *Session) installClientSID() {
	s.client.SetSID(s.record.SID, s.record.SIDParamName)
}

func (s *Session) loadSnapshotBlob(pk []byte) {
	path := sessionBlobPath(s.fs.TmpDir(), pk, s.username, s.password, "fs")
	blob, ok := s.fs.Read(path)
	if !ok {
		return
	}
	plain, ok := decodeBlob(pk, s.username, s.password, "fs", blob)
	if !ok {
		return
	}
	var snap Snapshot
	if err := json.Unmarshal(plain, &snap); err == nil {
		s.snapshot = &snap
	}
}

// persist rewrites the session-record blob and, when a filesystem
// snapshot has been loaded, the snapshot blob. Before the first
// LoadFilesystem no snapshot blob is written.
func (s *Session) persist(pk []byte) error {
	s.record.Saved = time.Now().UnixMilli()
	recJSON, err := json.Marshal(s.record)
	if err != nil {
		return errors.Wrap(err, "marshal session record")
	}
	blob := encodeBlob(pk, s.username, s.password, s.name, recJSON)
	if !s.fs.Write(sessionBlobPath(s.fs.TmpDir(), pk, s.username, s.password, s.name), blob) {
		return errors.New("write session blob failed")
	}

	if s.snapshot != nil {
		snapJSON, err := json.Marshal(s.snapshot)
		if err != nil {
			return errors.Wrap(err, "marshal filesystem snapshot")
		}
		fsBlob := encodeBlob(pk, s.username, s.password, "fs", snapJSON)
		s.fs.Write(sessionBlobPath(s.fs.TmpDir(), pk, s.username, s.password, "fs"), fsBlob)
	}
	return nil
}

// LoadFilesystem fetches the `f` RPC and materialises it into the
// session's snapshot, persisting it alongside the session record.
func (s *Session) LoadFilesystem(ctx context.Context) (*Snapshot, error) {
	if s.state != StateOpen {
		return nil, ErrNotOpen
	}
	resp, err := s.client.Call(ctx, map[string]any{"a": "f", "c": 1, "r": 1})
	if err != nil {
		return nil, err
	}
	var fsResp filesystemResponse
	if err := jsonUnmarshalNumbers(resp, &fsResp); err != nil {
		return nil, errors.Wrap(err, "decode f response")
	}
	snap := buildFilesystem(&fsResp, s.record)
	s.snapshot = snap
	s.persist(s.record.PK)
	return snap, nil
}
