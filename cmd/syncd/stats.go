package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/collabforge/syncd/internal/wire"
)

func statsCmd() *cobra.Command {
	var addrFlag string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Query a running syncd instance's /health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get("http://" + addrFlag + "/health")
			if err != nil {
				return fmt.Errorf("server not reachable: %w", err)
			}
			defer resp.Body.Close()

			var s wire.Stats
			if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
				return fmt.Errorf("decode stats: %w", err)
			}
			fmt.Printf("active projects: %d\nactive peers:    %d\nuptime:          %ds\n",
				s.ActiveProjects, s.ActivePeers, s.UptimeSeconds)
			return nil
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "localhost:5000", "syncd HTTP address")
	return cmd
}
