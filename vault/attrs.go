package vault

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// attrMagic is the literal prefix every valid decrypted attribute blob
// must begin with.
const attrMagic = "MEGA"

// encodeNodeAttrs serializes attrs into the wire form the service
// expects: base64(AES-CBC-zeroIV(nodeKey, align16("MEGA" ‖ json(attrs)))).
func encodeNodeAttrs(nodeKey16 []byte, attrs map[string]any) (string, error) {
	j, err := json.Marshal(attrs)
	if err != nil {
		return "", errors.Wrap(err, "marshal node attrs")
	}
	plain := append([]byte(attrMagic), j...)
	aligned := alignbuf(plain, 16, false)
	cipherText := aesEncCBC(nodeKey16, aligned)
	return ub64enc(cipherText), nil
}

// decodeNodeAttrs reverses encodeNodeAttrs. It returns (nil, nil) — not
// an error — when the magic doesn't match or the JSON tail fails to
// parse; trailing zero padding in the JSON tail is tolerated.
func decodeNodeAttrs(nodeKey16 []byte, encoded string) (map[string]any, error) {
	cipherText, err := ub64dec(encoded)
	if err != nil {
		return nil, nil
	}
	if len(cipherText) == 0 || len(cipherText)%16 != 0 {
		return nil, nil
	}
	plain := aesDecCBC(nodeKey16, cipherText)
	if !bytes.HasPrefix(plain, []byte(attrMagic+"{")) {
		return nil, nil
	}
	tail := bytes.TrimRight(plain[len(attrMagic):], "\x00")
	var attrs map[string]any
	if err := json.Unmarshal(tail, &attrs); err != nil {
		return nil, nil
	}
	return attrs, nil
}
