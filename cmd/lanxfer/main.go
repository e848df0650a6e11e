// lanxfer is a peer-to-peer LAN file transfer tool: no accounts, no cloud
// relay, files move directly between two machines on the same network.
package main

import (
	"os"

	"lanxfer/internal/cli"
)

var version = "dev"

func main() {
	cli.Version = version
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
