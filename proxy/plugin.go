package proxy

import (
	"net/http"
	"time"

	"github.com/cocaine/rpcproxy/servicecache"
)

// Dispatcher is the view of the proxy available to the plugins.
type Dispatcher interface {
	Timeout(name, event string) time.Duration
	ResolveGroupToVersion(name string, seed uint64) string

	// GetService returns a connection to a version of an application from
	// the cache. The timeouts are looked up by the application name.
	GetService(r *Request, name, version string) (*servicecache.Entry, error)

	// Process sends the envelope of a request to the application and
	// forwards the reply, or the failure, to the client.
	Process(r *Request, name string, e *servicecache.Entry, event string, envelope []byte)
}

// Plugin handles the requests sent to an alternate backend.
type Plugin interface {
	Name() string

	// Match tells whether the plugin takes over the request.
	Match(r *http.Request) bool

	// Handle serves the request. When it returns an error, the response
	// was not sent yet. PluginNoSuchApplication is answered with 503,
	// any other error with 500.
	Handle(d Dispatcher, r *Request) error
}
