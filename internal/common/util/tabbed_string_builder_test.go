package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTabbedStringBuilder_AlignsColumns(t *testing.T) {
	sb := NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	sb.Writef("%s\t%s\n", "a", "b")
	sb.Writef("%s\t%s\n", "longer", "c")
	assert.Equal(t, "a      b\nlonger c\n", sb.String())
}

func TestTabbedStringBuilder_Write(t *testing.T) {
	sb := NewTabbedStringBuilder(1, 1, 1, ' ', 0)
	sb.Write("a\tb")
	sb.Write("\n")
	assert.Equal(t, "a b\n", sb.String())
}
