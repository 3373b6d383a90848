/*
Package pipeline is a small message runtime that drives the streaming engine.

A Flow turns each incoming payload into a root event.Context, runs a
Processor chain over it and settles the root. Whenever a stage leaves a raw
single-pass io.Reader as the payload, the chain hands it to the
streaming.Manager under the current root, so every later stage can read the
payload again through its own cursor. When the root terminates the flow
calls Registry.OnRootCompleted, which disposes every buffer the message
created.

# Stages

  - Chain runs processors in order.
  - ScatterGather runs routes concurrently over the same payload.
  - Choice picks one route by attribute value.
  - LogPayload, Digest and MaxSize read the payload through OpenPayload.
*/
package pipeline
