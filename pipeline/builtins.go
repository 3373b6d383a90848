package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowstream/event"
	"github.com/BaSui01/flowstream/types"
)

// Attribute keys written by the built-in stages.
const (
	AttrDigest = "digest.sha256"
	AttrBytes  = "digest.bytes"
	AttrRoute  = "route"
)

// =============================================================================
// 📝 LogPayload
// =============================================================================

// LogPayload logs the payload size and its first previewBytes bytes.
func LogPayload(logger *zap.Logger, previewBytes int) Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "log_payload"))
	if previewBytes < 0 {
		previewBytes = 0
	}

	return ProcessorFunc(func(ctx context.Context, msg *Message) (*Message, error) {
		r, err := OpenPayload(ctx, msg)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		preview := make([]byte, previewBytes)
		n, err := io.ReadFull(r, preview)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		rest, err := io.Copy(io.Discard, r)
		if err != nil {
			return nil, err
		}

		logger.Info("message payload",
			zap.String("message_id", msg.ID),
			zap.Int64("bytes", int64(n)+rest),
			zap.String("preview", printable(preview[:n])))
		return msg, nil
	})
}

func printable(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return hex.EncodeToString(b)
}

// =============================================================================
// 🔐 Digest
// =============================================================================

// Digest stores the payload's SHA-256 and byte count as attributes.
func Digest() Processor {
	return ProcessorFunc(func(ctx context.Context, msg *Message) (*Message, error) {
		r, err := OpenPayload(ctx, msg)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		h := sha256.New()
		n, err := io.Copy(h, r)
		if err != nil {
			return nil, err
		}
		msg.SetAttribute(AttrDigest, hex.EncodeToString(h.Sum(nil)))
		msg.SetAttribute(AttrBytes, strconv.FormatInt(n, 10))
		return msg, nil
	})
}

// =============================================================================
// 📏 MaxSize
// =============================================================================

// MaxSize rejects payloads longer than limit bytes.
func MaxSize(limit int64) Processor {
	return ProcessorFunc(func(ctx context.Context, msg *Message) (*Message, error) {
		r, err := OpenPayload(ctx, msg)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		n, err := io.CopyN(io.Discard, r, limit+1)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if n > limit {
			return nil, types.NewError(types.ErrValidation,
				fmt.Sprintf("payload exceeds %d bytes", limit)).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		return msg, nil
	})
}

// =============================================================================
// 🔀 Routing
// =============================================================================

// Route is a named processor.
type Route struct {
	Name      string
	Processor Processor
}

// ScatterGather runs every route concurrently on its own copy of the message.
// Each route reads the shared payload through its own cursor and runs under a
// child event. Route attributes are merged back prefixed with "<route>.".
// The first route error cancels the others and is returned.
func ScatterGather(routes ...Route) Processor {
	return ProcessorFunc(func(ctx context.Context, msg *Message) (*Message, error) {
		// Routes read concurrently, so the payload must be replayable first.
		if err := manage(ctx, msg); err != nil {
			return nil, err
		}

		parent, _ := event.FromContext(ctx)
		g, gctx := errgroup.WithContext(ctx)

		var mu sync.Mutex
		merged := msg.Clone()

		for _, route := range routes {
			g.Go(func() (err error) {
				rctx := gctx
				var child *event.Context
				if parent != nil {
					if child, err = parent.NewChild(); err != nil {
						return err
					}
					rctx = event.NewContext(gctx, child)
				}
				// The flow's recover runs on the caller's goroutine, not this one.
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("route %s panicked: %v", route.Name, r)
						if child != nil {
							child.Fail(err)
						}
					}
				}()

				out, err := route.Processor.Process(rctx, msg.Clone())
				if err != nil {
					if child != nil {
						child.Fail(err)
					}
					return fmt.Errorf("route %s: %w", route.Name, err)
				}
				if child != nil {
					child.Success()
				}
				if out == nil {
					return nil
				}

				mu.Lock()
				for k, v := range out.Attributes {
					if msg.Attributes[k] == v {
						continue
					}
					merged.SetAttribute(route.Name+"."+k, v)
				}
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return merged, nil
	})
}

// Choice runs the route whose name equals the message attribute attr, or
// fallback when none matches. Without a fallback an unmatched message fails.
func Choice(attr string, routes []Route, fallback Processor) Processor {
	byName := make(map[string]Processor, len(routes))
	for _, r := range routes {
		byName[r.Name] = r.Processor
	}

	return ProcessorFunc(func(ctx context.Context, msg *Message) (*Message, error) {
		value := msg.Attributes[attr]
		if p, ok := byName[value]; ok {
			msg.SetAttribute(AttrRoute, value)
			return p.Process(ctx, msg)
		}
		if fallback != nil {
			return fallback.Process(ctx, msg)
		}
		return nil, types.NewError(types.ErrNoRoute,
			fmt.Sprintf("no route for %s=%q", attr, value)).
			WithHTTPStatus(http.StatusUnprocessableEntity)
	})
}

// SetPayload replaces the payload with a fixed body.
func SetPayload(body []byte) Processor {
	return ProcessorFunc(func(_ context.Context, msg *Message) (*Message, error) {
		out := msg.Clone()
		out.Payload = bytes.NewReader(body)
		return out, nil
	})
}
