// go-s0 is a command line front end to the Z-Wave Security 0 library.
package main

import (
	"os"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.WithError(err).Debug("command failed")
		os.Exit(1)
	}
}
