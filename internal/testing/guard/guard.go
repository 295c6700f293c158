// Package guard forces test mode on for any package that imports it, so a
// stray main() invocation inside tests never touches live infrastructure.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("GROUPLEDGER_TEST_MODE") == "" {
			_ = os.Setenv("GROUPLEDGER_TEST_MODE", "1")
		}
	})
}
