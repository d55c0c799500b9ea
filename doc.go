/*
Package rpcproxy provides an HTTP reverse proxy in front of the applications
of a cocaine cloud.

The proxy translates each HTTP request into a single streaming RPC
exchange with an instance of the target application, and streams the
reply back to the HTTP client. The application and its event are taken
from the first two segments of the path, or from the X-Cocaine-Service
and X-Cocaine-Event headers:

	GET /app1/render/page?id=42      -> app1, event render, uri /page?id=42

The connections to the applications are pooled per application in the
service cache, and they are replaced periodically, so that a long running
proxy spreads its load over the instances started later. When the
locator publishes routing groups, a group name is resolved to one of its
versions on every request, either randomly according to the weights of
the versions or, with the sticky header set, deterministically.

Lost connections and restarted instances are retried, the timeouts of the
applications are enforced, and the failures are mapped to HTTP statuses.

# Running

The executable is under cmd/rpcproxy; its options are listed with

	rpcproxy -help

Options can also be loaded from a YAML file with -config-file, the flags
on the command line overriding the file.

# Util listener

With -enableutil, a second listener serves /ping, /info, /logger and
/metrics, see the utilserver package.

# Extending

Plugins passed in Options.Plugins take over the requests they match, and
can reuse the dispatching of the proxy, see proxy.Plugin.
*/
package rpcproxy
