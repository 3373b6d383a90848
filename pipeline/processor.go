package pipeline

import (
	"context"
	"fmt"
)

// Processor is one pipeline stage. A nil returned message means the input
// message continues unchanged.
type Processor interface {
	Process(ctx context.Context, msg *Message) (*Message, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, msg *Message) (*Message, error)

func (f ProcessorFunc) Process(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

type chain struct {
	processors []Processor
}

// Chain runs processors in order, feeding each the previous output. Before
// the first stage and after every stage a raw io.Reader payload is buffered
// by the manager in ctx.
func Chain(processors ...Processor) Processor {
	return &chain{processors: processors}
}

func (c *chain) Process(ctx context.Context, msg *Message) (*Message, error) {
	if err := manage(ctx, msg); err != nil {
		return nil, err
	}

	current := msg
	for i, p := range c.processors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out, err := p.Process(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("stage %d failed: %w", i+1, err)
		}
		if out != nil {
			current = out
		}
		if err := manage(ctx, current); err != nil {
			return nil, fmt.Errorf("stage %d output: %w", i+1, err)
		}
	}
	return current, nil
}
