package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo_String(t *testing.T) {
	info := Info{Version: "v0.4.0", CommitHash: "0123456789abcdef", BuildTime: "2026-03-01T10:00:00Z"}
	assert.Equal(t, "pulsejobs v0.4.0 (commit 0123456, built 2026-03-01T10:00:00Z)", info.String())

	info.Modified = true
	assert.Contains(t, info.String(), "0123456-dirty")
}

func TestInfo_Short(t *testing.T) {
	assert.Equal(t, "abc", Info{CommitHash: "abc"}.Short())
	assert.Equal(t, "abcdefg", Info{CommitHash: "abcdefgh"}.Short())
}

func TestGet_FillsPlatform(t *testing.T) {
	info := Get()
	assert.NotEmpty(t, info.GoVersion)
	assert.NotEmpty(t, info.Platform)
	assert.NotEmpty(t, info.CommitHash)
	assert.NotEmpty(t, info.BuildTime)
}
