// Command syncd runs the collaborative editing sync server: the WebSocket
// endpoint that carries the wire protocol, the admin HTTP API, and the
// background save/cleanup scheduler.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "syncd",
		Short: "syncd — real-time collaborative editing sync server",
		Long:  "Hosts CRDT-backed project rooms, relaying text and file-tree edits between connected editor clients over a binary WebSocket protocol.",
	}

	root.AddCommand(
		serveCmd(),
		keygenCmd(),
		statsCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
