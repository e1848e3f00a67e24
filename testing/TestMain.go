package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("CHANTIER_TEST_MODE", "1")
		if os.Getenv("API_KEY_HASH") == "" {
			// bcrypt of "test-key" at cost 4.
			_ = os.Setenv("API_KEY_HASH", "$2b$04$X46fABPEpg5VMaaTOg8M7.IqBpEnqzBcQVhmD3ypdc6ePQbSLG2Pe")
		}
		if os.Getenv("EXPORT_DIR") == "" {
			_ = os.Setenv("EXPORT_DIR", os.TempDir())
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
