package llm

import (
	"context"
	"errors"

	"github.com/loopworks/agentengine/types"
)

var ErrNotSupported = errors.New("operation not supported by provider")

type Capabilities struct {
	Tools            bool
	Streaming        bool
	StructuredOutput bool
}

// Provider is the model capability consumed by the run controller. It
// is opaque to the provider's wire format: implementations translate
// the canonical message history into whatever their API expects and
// report usage on every response.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	Generate(ctx context.Context, req types.Request) (types.ModelResponse, error)
}

// StreamingProvider is implemented by providers that can return
// incremental deltas instead of a single complete response.
type StreamingProvider interface {
	Provider
	GenerateStream(ctx context.Context, req types.Request) (Stream, error)
}
