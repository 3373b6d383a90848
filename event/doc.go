// Package event tracks the lifecycle of messages flowing through a pipeline.
//
// Every message entering the runtime gets a root Context. Forks of the
// message get child contexts. Each context settles exactly once (Success,
// Fail or Abandon) and terminates when it has settled and all of its
// children have terminated. OnTerminated callbacks run once, outside any
// lock; the pipeline uses the root's termination to release the streams
// buffered on the message's behalf.
package event
