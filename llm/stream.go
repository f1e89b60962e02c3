package llm

import "github.com/loopworks/agentengine/types"

type DeltaType string

const (
	DeltaText          DeltaType = "text"
	DeltaThinking      DeltaType = "thinking"
	DeltaToolCallStart DeltaType = "tool_call_start"
	DeltaToolCallArgs  DeltaType = "tool_call_args"
	DeltaFinish        DeltaType = "finish"
)

// Delta is one incremental fragment of a streamed model response.
// Index addresses the response part the fragment belongs to, so
// interleaved parts reassemble correctly. Tool-call argument
// fragments arrive as raw string pieces in Args; they are assembled
// and canonicalized by the controller, never persisted as-is.
type Delta struct {
	Type         DeltaType
	Index        int
	Text         string
	ToolCallID   string
	ToolName     string
	Args         string
	Usage        *types.Usage
	FinishReason string
}

// Stream is a finite, pull-based sequence of deltas for one model
// call. Recv blocks until the next delta is available and returns
// io.EOF after the finish delta has been consumed. A Stream is not
// restartable.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}
