package vault

import "path/filepath"

// sessionBlobPath computes the on-disk path for a session-name blob:
// tmp_dir / base64(AES-CBC(pk, SHA-256(username‖password‖name)))[0..30].
func sessionBlobPath(tmpDir string, pk []byte, username, password, name string) string {
	digest := sha256Digest([]byte(username + password + name))
	aligned := alignbuf(digest, 16, false)
	enc := aesEncCBC(pk, aligned)
	return filepath.Join(tmpDir, ub64enc(enc)[:30])
}

// blobNonce returns the AES-CTR nonce for the envelope: the first 8
// bytes of the same SHA-256 digest used for the path.
func blobNonce(username, password, name string) []byte {
	digest := sha256Digest([]byte(username + password + name))
	return digest[:8]
}

// encodeBlob envelopes plaintext for on-disk storage: prefix the
// payload with its own SHA-256 digest, then AES-CTR-encrypt the whole
// thing under pk with the derived nonce.
func encodeBlob(pk []byte, username, password, name string, plaintext []byte) []byte {
	digest := sha256Digest(plaintext)
	framed := joinbuf(digest, plaintext)
	nonce := blobNonce(username, password, name)
	return aesCTR(pk, nonce, 0, framed)
}

// decodeBlob reverses encodeBlob. It returns (nil, false) — never an
// error — on any corruption, mismatch, or malformed input: corruption,
// mismatch, or absence yields a null load, never a crash.
func decodeBlob(pk []byte, username, password, name string, ciphertext []byte) ([]byte, bool) {
	if len(ciphertext) < 32 {
		return nil, false
	}
	nonce := blobNonce(username, password, name)
	framed := aesCTR(pk, nonce, 0, ciphertext)
	prefix := framed[:32]
	payload := framed[32:]
	if !constantTimeEqual(prefix, sha256Digest(payload)) {
		return nil, false
	}
	return payload, true
}
