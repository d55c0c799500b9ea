/*
Package logging implements application log instrumentation, the access
log and the buffered request log of the proxy.

# Application Log

The application log uses the logrus package:

https://github.com/sirupsen/logrus

To send messages to the application log, import logrus and use its
methods. Example:

	import log "github.com/sirupsen/logrus"

	func doSomething() {
		log.Errorf("nothing to do")
	}

During startup initialization, it is possible to redirect the log output
from the default /dev/stderr to another file, to set the level and to set a
common prefix for each log entry. The level can be changed at runtime with
SetLevel.

# Access Log

The access log prints HTTP access information in the Apache combined
access log format, extended with the duration, the requested host, the
request id and the application and event the request was dispatched to.
It can be printed in JSON format, too.

# Request Log

Messages about a single request are sent to the logger returned by
ForRequest, tagged with the request id in the trace_id field. By default
they are printed as part of the application log. In fingers-crossed mode,
they are kept in memory per request, and they are printed only when a
message of the request reaches the error level: then every message of the
request, including the earlier ones, is printed. The messages of a request
are dropped by Purge, when the request is complete.
*/
package logging
