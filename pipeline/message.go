package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/BaSui01/flowstream/streaming"
	"github.com/BaSui01/flowstream/types"
)

// Message is the unit flowing through a pipeline.
//
// Payload is one of nil, []byte, string, io.Reader, *streaming.Cursor or
// streaming.CursorProvider.
type Message struct {
	ID         string            `json:"id"`
	Payload    any               `json:"-"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Clone copies the message. The payload is shared; attributes are not.
func (m *Message) Clone() *Message {
	out := &Message{ID: m.ID, Payload: m.Payload, Attributes: maps.Clone(m.Attributes)}
	if out.Attributes == nil {
		out.Attributes = make(map[string]string)
	}
	return out
}

// SetAttribute sets an attribute, allocating the map if needed.
func (m *Message) SetAttribute(key, value string) {
	if m.Attributes == nil {
		m.Attributes = make(map[string]string)
	}
	m.Attributes[key] = value
}

// =============================================================================
// 🌊 Payload access
// =============================================================================

type managerKey struct{}

// WithManager attaches the streaming manager stages use to buffer raw
// payloads.
func WithManager(ctx context.Context, m *streaming.Manager) context.Context {
	return context.WithValue(ctx, managerKey{}, m)
}

// ManagerFrom returns the streaming manager attached to ctx.
func ManagerFrom(ctx context.Context) (*streaming.Manager, bool) {
	m, ok := ctx.Value(managerKey{}).(*streaming.Manager)
	return m, ok && m != nil
}

// OpenPayload returns a reader over the payload from its first byte.
//
// Managed payloads get a fresh cursor that the caller must close. A raw
// io.Reader is first handed to the manager in ctx, if any, and msg.Payload is
// replaced by the resulting provider. Without a manager the raw reader is
// returned as is and can only be consumed once.
func OpenPayload(ctx context.Context, msg *Message) (io.ReadCloser, error) {
	if err := manage(ctx, msg); err != nil {
		return nil, err
	}

	switch p := msg.Payload.(type) {
	case nil:
		return io.NopCloser(bytes.NewReader(nil)), nil
	case []byte:
		return io.NopCloser(bytes.NewReader(p)), nil
	case string:
		return io.NopCloser(strings.NewReader(p)), nil
	case streaming.CursorProvider:
		return openCursor(p)
	case *streaming.Cursor:
		return openCursor(p.Provider())
	case io.Reader:
		return io.NopCloser(p), nil
	default:
		return nil, types.NewError(types.ErrValidation,
			fmt.Sprintf("unsupported payload type %T", msg.Payload))
	}
}

func openCursor(p streaming.CursorProvider) (io.ReadCloser, error) {
	c, err := p.OpenCursor()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// manage buffers a raw single-pass payload under the root in ctx. Payloads
// that are already cursor-backed are left alone.
func manage(ctx context.Context, msg *Message) error {
	r, ok := msg.Payload.(io.Reader)
	if !ok || streaming.IsManaged(r) {
		return nil
	}
	m, ok := ManagerFrom(ctx)
	if !ok {
		return nil
	}
	p, err := m.ManageContext(ctx, r)
	if err != nil {
		return err
	}
	msg.Payload = p
	return nil
}
