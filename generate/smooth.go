package generate

import (
	"regexp"

	"github.com/hupe1980/agentflow/core"
)

// Transform rewrites the part stream of a generation. It is called once per
// stream with the downstream emit function and returns the upstream one.
// A transform may hold state; the stream always ends with a non-text part.
type Transform func(emit func(core.StreamPart)) func(core.StreamPart)

var wordPattern = regexp.MustCompile(`\S+\s+`)

// SmoothWords buffers text deltas and releases them one whole word at a time,
// each with its leading and trailing whitespace. Buffered text is flushed
// before any other part.
func SmoothWords() Transform {
	return func(emit func(core.StreamPart)) func(core.StreamPart) {
		var buf string

		flush := func() {
			if buf != "" {
				emit(core.StreamPart{Type: core.PartTextDelta, Text: buf})
				buf = ""
			}
		}

		return func(p core.StreamPart) {
			if p.Type != core.PartTextDelta {
				flush()
				emit(p)

				return
			}

			buf += p.Text

			for {
				loc := wordPattern.FindStringIndex(buf)
				if loc == nil {
					break
				}

				emit(core.StreamPart{Type: core.PartTextDelta, Text: buf[:loc[1]]})
				buf = buf[loc[1]:]
			}
		}
	}
}

func applyTransforms(emit func(core.StreamPart), transforms []Transform) func(core.StreamPart) {
	for i := len(transforms) - 1; i >= 0; i-- {
		if transforms[i] != nil {
			emit = transforms[i](emit)
		}
	}

	return emit
}
