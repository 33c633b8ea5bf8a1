// Package guard flips the binaries into test mode when imported by a test package.
package guard

import (
	"os"
	"sync"
)

// EnvTestMode is read by app.InTestMode.
const EnvTestMode = "COOPLEDGER_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvTestMode) == "" {
			_ = os.Setenv(EnvTestMode, "1")
		}
	})
}
