package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveKey(t *testing.T) {
	a := DeriveKey("lead", "campaign", "variant", "2024-03-04")

	assert.Equal(t, a, DeriveKey("lead", "campaign", "variant", "2024-03-04"))
	assert.NotEqual(t, a, DeriveKey("lead", "campaign", "variant", "2024-03-05"))
	assert.NotEqual(t, DeriveKey("ab", "c"), DeriveKey("a", "bc"))
	assert.Len(t, a, 43)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}
