/*
Package proxy implements the HTTP front door of the proxy and the dispatcher
of the requests to the cocaine applications.

# Request dispatching

The target application and event are taken either from the
X-Cocaine-Service and X-Cocaine-Event headers, or from the first two
segments of the request path:

	/<application>/<event>/<rest of the path>?<query>

In the latter case the application sees only the rest of the path and the
query. When the sticky header is set, its value is hashed into a seed that
selects a version of the routing group deterministically.

The request is packed into an envelope and sent to a connection taken from
the service cache:

	[method, uri, version, [[name, value], ...], body]

The first chunk of the reply holds the status code and the response headers,
the following chunks hold the body. When the reply declares a
Content-Length, the body is buffered and sent in one piece, otherwise every
chunk is flushed to the client immediately.

# Failures

Every read from the application is bounded by the timeout of the event.
Timeouts are answered with 504 and never retried. Lost connections are
reconnected within the remaining time and the request is retried while
attempts are left. Applications that were restarted are disconnected and
retried, overloaded instances are replaced by another instance of the pool.
Any other error is answered with 500. When no instance of the application
can be obtained, the response is 503, so that the load balancers in front of
the proxy can try another one.

# Plugins

Plugins take over the requests that they match, before the dispatching by
the application name. They can reuse the exchange of the proxy through the
Dispatcher interface.
*/
package proxy
