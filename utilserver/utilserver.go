/*
Package utilserver implements the administrative listener of the proxy.

Endpoints:

	GET  /ping     200 OK when the locator is reachable, otherwise 503
	GET  /info     state of the pools and the request counters, JSON
	GET  /logger   current log level
	POST /logger   sets the log level from the form value level
	GET  /metrics  Prometheus metrics
*/
package utilserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/cocaine/rpcproxy/logging"
	"github.com/cocaine/rpcproxy/metrics"
	"github.com/cocaine/rpcproxy/proxy"
)

// InfoProvider is implemented by the proxy.
type InfoProvider interface {
	Info() proxy.Info
}

// Options of the util handler.
type Options struct {

	// Info provides the content of /info. Required.
	Info InfoProvider

	// Health reports the state of the locator on /ping. Without it /ping
	// always succeeds.
	Health proxy.HealthChecker

	// Metrics registers the /metrics handler. Defaults to metrics.Void.
	Metrics metrics.Metrics
}

type handler struct {
	options Options
}

// New creates the handler of the util listener.
func New(o Options) *http.ServeMux {
	if o.Metrics == nil {
		o.Metrics = metrics.Void
	}

	h := &handler{options: o}
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", h.ping)
	mux.HandleFunc("/info", h.info)
	mux.HandleFunc("/logger", h.logger)
	o.Metrics.RegisterHandler("/metrics", mux)
	return mux
}

func (h *handler) ping(w http.ResponseWriter, r *http.Request) {
	if h.options.Health != nil && !h.options.Health.Healthy() {
		http.Error(w, "Failed", http.StatusServiceUnavailable)
		return
	}

	w.Write([]byte("OK"))
}

func (h *handler) info(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	b, err := json.MarshalIndent(h.options.Info.Info(), "", "  ")
	if err != nil {
		log.Errorf("failed to marshal info: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

func (h *handler) logger(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		fmt.Fprintln(w, logging.GetLevel())
	case "POST":
		level := r.FormValue("level")
		if err := logging.SetLevel(level); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		log.Infof("log level set to %s", level)
		fmt.Fprintln(w, logging.GetLevel())
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
