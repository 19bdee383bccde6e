// Package audit records security-relevant transitions.
//
// # Components
//
//   - [Sink] is the event consumer interface. It returns the event id.
//   - [StoreSink] writes to the activity table, [JSONWriterSink] writes
//     JSON lines, [ChannelSink] and [NoOpSink] serve tests.
//   - [Dispatcher] is an optional buffered async relay in front of a Sink.
//
// # Architecture boundaries
//
// This package owns event delivery. It does NOT decide which events to
// emit; the engine does. A failing sink never fails the operation that
// produced the event: the engine logs the error and continues.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import the root panelauth package.
package audit
