//go:build !unix

package keys

import (
	"runtime"

	"go.uber.org/zap"
)

// Default reports that no hotkey source exists on this platform.
func Default(*zap.Logger) Registrar {
	return Unavailable{Reason: "no hotkey source on " + runtime.GOOS}
}
