package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoiseFilter(t *testing.T) {
	t.Run("strips the listening banner and its help trailer", func(t *testing.T) {
		f := NewNoiseFilter(true)

		assert.False(t, f.Forward("Debugger listening on ws://127.0.0.1:9229/abc-def"))
		assert.False(t, f.Active())
		assert.False(t, f.Forward("For help, see: https://nodejs.org/en/docs/inspector"))
		assert.True(t, f.Forward("actual program output"))
	})

	t.Run("strips the legacy port banner", func(t *testing.T) {
		f := NewNoiseFilter(true)
		assert.False(t, f.Forward("Debugger listening on port 5858"))
	})

	t.Run("strips the deprecation banner", func(t *testing.T) {
		f := NewNoiseFilter(true)
		assert.False(t, f.Forward("(node) --debug-brk is deprecated. Use --inspect-brk instead."))
		assert.False(t, f.Active())
	})

	t.Run("program output before any banner passes and keeps filtering", func(t *testing.T) {
		f := NewNoiseFilter(true)
		assert.True(t, f.Forward("early stderr line"))
		assert.True(t, f.Active())
		assert.False(t, f.Forward("Debugger listening on ws://127.0.0.1:9229/x"))
	})

	t.Run("once disabled everything passes", func(t *testing.T) {
		f := NewNoiseFilter(true)
		f.Forward("Debugger listening on ws://127.0.0.1:9229/x")
		assert.True(t, f.Forward("line one"))
		// A later banner-looking line is real output at this point.
		assert.True(t, f.Forward("Debugger listening on ws://127.0.0.1:9229/y"))
	})

	t.Run("help trailer only follows a banner", func(t *testing.T) {
		f := NewNoiseFilter(true)
		f.Forward("Debugger listening on ws://127.0.0.1:9229/x")
		assert.True(t, f.Forward("normal line"))
		assert.True(t, f.Forward("For help, see: https://example.com"))
	})

	t.Run("inactive filter forwards banners verbatim", func(t *testing.T) {
		f := NewNoiseFilter(false)
		assert.True(t, f.Forward("Debugger listening on ws://127.0.0.1:9229/x"))
		assert.True(t, f.Forward("For help, see: https://example.com"))
	})
}
