// Package generate implements the generation primitives driven by the engine:
// streaming text, non-streaming text and structured object generation over a
// model.Model, including the multi-step tool loop.
//
// A StreamText call starts producing immediately and records every part in a
// replay buffer, so tool side effects complete whether or not anyone reads
// the stream. Any number of readers can replay the parts from the start.
package generate
