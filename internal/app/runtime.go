package app

import (
	"os"
	"sync"
	"sync/atomic"
)

// TestModeEnv is set by the testing package so binaries skip network startup under go test.
const TestModeEnv = "CASEFLOW_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(TestModeEnv) == "1")
}

// InTestMode reports whether the application should skip runtime side effects. The
// environment is read once per process.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}
