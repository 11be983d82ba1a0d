package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withColor(t *testing.T, enabled bool) {
	t.Helper()
	prev := disableColor
	disableColor = !enabled
	t.Cleanup(func() { disableColor = prev })
}

func TestHighlightJSON(t *testing.T) {
	withColor(t, true)

	out := HighlightJSON(`{"model":"gpt-4","stream":true,"n":2,"user":null}`)
	assert.Contains(t, out, Blue+`"model"`+ResetCode+":")
	assert.Contains(t, out, Green+`"gpt-4"`+ResetCode)
	assert.Contains(t, out, Yellow+"true"+ResetCode)
	assert.Contains(t, out, Purple+"2"+ResetCode)
	assert.Contains(t, out, DimCode+"null"+ResetCode)
}

func TestNoColor(t *testing.T) {
	withColor(t, false)

	in := `{"a":1}`
	assert.Equal(t, in, HighlightJSON(in))
	assert.Equal(t, "uniapi", Gradient("uniapi", BrandBlue, BrandPurple))

	banner := Banner("v1.2.3", [][2]string{{"listen", ":8080"}, {"store", "redis"}})
	assert.Contains(t, banner, "uniapi v1.2.3")
	assert.Equal(t, 2, strings.Count(banner, "➜"))
}
