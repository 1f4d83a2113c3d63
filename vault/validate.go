package vault

import "github.com/pkg/errors"

// Mode selects whether Require is satisfied by any one of, or all of,
// its keys being present.
type Mode int

const (
	ModeOr Mode = iota
	ModeAnd
)

// Require checks that params satisfies mode over keys, returning an
// error naming the missing ones otherwise. Used to validate RPC
// response shapes before branching on which fields were sent (e.g. a
// login response carrying csid, tsid, or neither).
func Require(params map[string]any, keys []string, mode Mode) error {
	var found, missing []string
	for _, k := range keys {
		if v, ok := params[k]; ok && v != "" && v != nil {
			found = append(found, k)
		} else {
			missing = append(missing, k)
		}
	}
	switch mode {
	case ModeOr:
		if len(found) > 0 {
			return nil
		}
	case ModeAnd:
		if len(found) == len(keys) {
			return nil
		}
	}
	return errors.New("required field missing: " + joinStrings(missing))
}

func joinStrings(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	out := ss[0]
	for i := 1; i < len(ss); i++ {
		out += ", " + ss[i]
	}
	return out
}
