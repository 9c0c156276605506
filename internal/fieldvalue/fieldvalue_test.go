package fieldvalue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestParse(t *testing.T) {
	t.Run("nil and empty", func(t *testing.T) {
		assert.Empty(t, Parse(nil))
		assert.Empty(t, Parse(strPtr("")))
		assert.Empty(t, Parse(strPtr("   ")))
	})

	t.Run("null sentinels are dropped", func(t *testing.T) {
		assert.Empty(t, Parse(strPtr("null")))
		assert.Empty(t, Parse(strPtr(`["null", "", null]`)))
		assert.Equal(t, []string{"a"}, Parse(strPtr(`["a","null","",null]`)))
	})

	t.Run("json array", func(t *testing.T) {
		assert.Equal(t, []string{"123", "Maria Souza"}, Parse(strPtr(`["123","Maria Souza"]`)))
	})

	t.Run("numeric ids in array become strings", func(t *testing.T) {
		assert.Equal(t, []string{"301", "302"}, Parse(strPtr(`[301, 302]`)))
	})

	t.Run("bare scalar", func(t *testing.T) {
		assert.Equal(t, []string{"plainvalue"}, Parse(strPtr("plainvalue")))
	})

	t.Run("json scalar", func(t *testing.T) {
		assert.Equal(t, []string{"42"}, Parse(strPtr("42")))
	})

	t.Run("malformed json is kept as scalar", func(t *testing.T) {
		assert.NotPanics(t, func() {
			assert.Equal(t, []string{"{malformed"}, Parse(strPtr("{malformed")))
		})
	})
}

func TestSerializeRoundTrip(t *testing.T) {
	values := []string{"100", "José Pereira", "200"}
	raw := Serialize(values)
	assert.Equal(t, values, Parse(&raw))

	empty := Serialize(nil)
	assert.Equal(t, "[]", empty)
	assert.Empty(t, Parse(&empty))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, Normalize("jose"), Normalize("José"))
	assert.Equal(t, "responsavel pela etapa", Normalize("Responsável pela Etapa"))
	assert.Equal(t, "joao", Normalize("  JOÃO "))
}

func TestDedupe(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Dedupe([]string{"a", "b", "a", "c", "b"}))
	assert.Empty(t, Dedupe(nil))
}
