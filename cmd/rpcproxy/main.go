/*
This command provides the executable of the proxy, forwarding HTTP requests
to the applications of a cocaine cloud.

For the list of command line options, run:

	rpcproxy -help
*/
package main

import (
	"fmt"
	"runtime"

	log "github.com/sirupsen/logrus"

	"github.com/cocaine/rpcproxy"
	"github.com/cocaine/rpcproxy/config"
)

var (
	version string
	commit  string
)

func main() {
	cfg := config.NewConfig()
	if err := cfg.Parse(); err != nil {
		log.Fatalf("Error processing config: %s", err)
	}

	if cfg.PrintVersion {
		fmt.Printf(`rpcproxy version %s (commit: %s, runtime: %s)`, version, commit, runtime.Version())
		fmt.Println()
		return
	}

	log.SetLevel(cfg.ApplicationLogLevel)

	o := cfg.ToOptions()
	o.Version = version
	if err := rpcproxy.Run(o); err != nil {
		log.Fatal(err)
	}
}
