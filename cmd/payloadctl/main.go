package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/loiht2/payload-forge/cmd/payloadctl/cmd"
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)

	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
