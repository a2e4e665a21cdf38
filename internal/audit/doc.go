// Package audit relays security events to a pluggable sink without putting
// the sink on the request path.
//
// [Dispatcher] buffers events and forwards them from one goroutine. Sinks
// are [NoOpSink], [ChannelSink], [JSONWriterSink] and [SlogSink].
//
// The engine decides which events to emit; this package never filters.
package audit
