package vault

import (
	"fmt"
	"os"
)

// Warnf is the package-level warning hook. It defaults to stderr but a
// host application can redirect it, e.g. into its own structured logger.
var Warnf = func(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "vault: "+format+"\n", args...)
}

func logWarn(format string, args ...any) { Warnf(format, args...) }
