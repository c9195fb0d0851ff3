package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a LiveKit API secret for the voice surface",
		Long:  "Generates 32 random bytes, base64-encoded, suitable for LIVEKIT_API_SECRET.\nUse with: export LIVEKIT_API_SECRET=<output>, or livekit_api_secret in the --config YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(buf))
			return nil
		},
	}
}
