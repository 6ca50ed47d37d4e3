//go:build linux

package kernelabi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

//TestTrapNumbers io_uring syscall numbers are identical on every 64-bit
//Linux architecture; pin them so a bad x/sys table cannot slip through.
func TestTrapNumbers(t *testing.T) {
	assert.Equal(t, uintptr(425), SetupTrap)
	assert.Equal(t, uintptr(426), EnterTrap)
	assert.Equal(t, uintptr(427), RegisterTrap)
}

func TestSigsetBytes(t *testing.T) {
	assert.Equal(t, 8, SigsetBytes)
}
