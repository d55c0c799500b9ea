/*
Package cocaine implements a client for the cocaine RPC protocol, as far as the
proxy needs it: talking to the locator service and enqueueing events on
application instances.

Every message on the wire is a msgpack array:

	[channel, type, args]
	[channel, type, args, headers]

A channel is opened by the client with the first message sent on it. The
meaning of the type depends on the protocol of the channel: for the initial
message it selects the method of the service, while on streaming channels it
is one of write (0), error (1) or close (2). Errors carry the arguments
[[category, code], message].

The optional headers hold the trace context of the request: trace_id, span_id
and parent_id, each encoded as an 8 byte big endian binary.
*/
package cocaine
