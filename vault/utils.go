package vault

import (
	"bytes"
	"encoding/json"
)

// jsonUnmarshalNumbers decodes with UseNumber so large handles and
// sizes survive the JSON round trip without going through float64.
func jsonUnmarshalNumbers(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

// jsonMarshalNoEscape encodes v without HTML-escaping, matching the
// server's expectation that request bodies aren't processed as HTML.
func jsonMarshalNoEscape(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
