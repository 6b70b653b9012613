package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextDiff(t *testing.T) {
	assert.Empty(t, TextDiff("NAME  ADDRESS   \nKitchen\n\n", "NAME  ADDRESS\nKitchen"))

	diff := TextDiff("Kitchen\nBedroom", "Kitchen\nGarage")
	assert.Contains(t, diff, "-Garage")
	assert.Contains(t, diff, "+Bedroom")

	assert.NotEmpty(t, TextDiff(" a", "a", WithTrimSpace(false)))
	assert.NotEmpty(t, TextDiff("a \nb", "a\nb", WithIgnoreTrailingWhitespace(false)))
}

func TestTextDiffColors(t *testing.T) {
	diff := TextDiff("a", "b", WithEnableColors(true))
	assert.Contains(t, diff, "\x1b[")
}

func TestAssertText(t *testing.T) {
	rt := &recordingT{}
	assert.True(t, AssertText(rt, "same", "same"))
	assert.False(t, AssertText(rt, "one", "two"))
	assert.Len(t, rt.errors, 1)
}

func TestJSONDiff(t *testing.T) {
	t.Run("equal documents", func(t *testing.T) {
		assert.Empty(t, JSONDiff(`{"a":1,"b":[1,2]}`, `{"b":[1,2],"a":1}`))
	})

	t.Run("root arrays", func(t *testing.T) {
		assert.Empty(t, JSONDiff(`[{"name":"Kitchen"}]`, `[{"name":"Kitchen"}]`))
		assert.NotEmpty(t, JSONDiff(`[{"name":"Kitchen"}]`, `[{"name":"Garage"}]`))
	})

	t.Run("presence placeholder", func(t *testing.T) {
		assert.Empty(t, JSONDiff(`{"seen":"2024-01-01"}`, `{"seen":"<<PRESENCE>>"}`))
		assert.NotEmpty(t, JSONDiff(`{}`, `{"seen":"<<PRESENCE>>"}`))
	})

	t.Run("extra keys", func(t *testing.T) {
		assert.NotEmpty(t, JSONDiff(`{"a":1,"b":2}`, `{"a":1}`))
		assert.Empty(t, JSONDiff(`{"a":1,"b":2}`, `{"a":1}`, WithIgnoreExtraKeys(true)))
	})

	t.Run("invalid input", func(t *testing.T) {
		assert.Contains(t, JSONDiff(`{`, `{}`), "invalid actual JSON")
		assert.Contains(t, JSONDiff(`{}`, `{`), "invalid expected JSON")
	})
}

func TestAssertJSON(t *testing.T) {
	rt := &recordingT{}
	assert.True(t, AssertJSON(rt, `{"a":1}`, `{"a":1}`))
	assert.False(t, AssertJSON(rt, `{"a":1}`, `{"a":2}`))
	assert.Len(t, rt.errors, 1)
}
