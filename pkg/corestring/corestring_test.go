package corestring_test

import (
	"strings"
	"testing"

	"github.com/exos-project/exoscore/pkg/corestring"
	"github.com/stretchr/testify/assert"
)

func TestRoundTrip(t *testing.T) {
	n := corestring.NewName("init")
	assert.Equal(t, "init", n.String())
}

func TestTruncation(t *testing.T) {
	long := strings.Repeat("x", corestring.MaxNameLength+10)
	assert.True(t, corestring.Truncated(long))

	n := corestring.NewName(long)
	assert.Len(t, n.String(), corestring.MaxNameLength-1)
}

func TestEmpty(t *testing.T) {
	var n corestring.Name
	assert.Equal(t, "", n.String())
}

func TestSetOverwrites(t *testing.T) {
	n := corestring.NewName("a-very-long-original-name")
	n.Set("short")
	assert.Equal(t, "short", n.String())
}
