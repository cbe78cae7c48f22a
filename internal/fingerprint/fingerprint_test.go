package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeIgnoresCaseAndWhitespace(t *testing.T) {
	t.Parallel()

	a := Compute("US123", "A robotic  arm\n for demining", "v1")
	b := Compute("US123", "  a ROBOTIC arm for\tdemining ", "v1")

	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
}

func TestComputeSeparatesInputs(t *testing.T) {
	t.Parallel()

	base := Compute("US123", "same abstract text", "v1")

	assert.NotEqual(t, base, Compute("US124", "same abstract text", "v1"))
	assert.NotEqual(t, base, Compute("US123", "other abstract text", "v1"))
	assert.NotEqual(t, base, Compute("US123", "same abstract text", "v2"))
}

func TestComputeKnownValue(t *testing.T) {
	t.Parallel()

	// sha1("x|y|z")
	assert.Equal(t, "90855a78590f6dad8aa894d5b5f3d37ac9bd115b", Compute("x", "Y", "z"))
}
