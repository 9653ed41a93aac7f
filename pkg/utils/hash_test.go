package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentKey(t *testing.T) {
	a := ContentKey("customers", []byte("Number,Name\n1,A\n"))
	b := ContentKey("customers", []byte("Number,Name\n1,A\n"))
	c := ContentKey("evaluation", []byte("Number,Name\n1,A\n"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "customers:"))
	assert.Len(t, a, len("customers:")+24)
}
