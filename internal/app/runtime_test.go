package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInTestModeReadsEnvironmentOnce(t *testing.T) {
	t.Setenv(TestModeEnv, "1")
	assert.True(t, InTestMode())

	t.Setenv(TestModeEnv, "0")
	assert.True(t, InTestMode(), "the flag is fixed after the first read")
}
