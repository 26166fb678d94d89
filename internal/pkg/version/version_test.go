package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("1.0.0", format("", ""))
	assert.Equal("1.0.0-rc1", format("rc1", ""))
	assert.Equal("1.0.0-rc1+sha.abcdef0", format("rc1", "abcdef0"))
	assert.Equal("1.0.0+sha.abcdef0", format("", "abcdef0"))
}

func TestVersionUsesLinkedSHA(t *testing.T) {
	saved := SHA
	t.Cleanup(func() { SHA = saved })
	SHA = "1234567"
	assert.True(t, strings.HasSuffix(Version(), "+sha.1234567"))
}
