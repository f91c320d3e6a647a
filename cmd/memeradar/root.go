package main

import (
	"context"

	"github.com/spf13/cobra"
)

func Execute(ctx context.Context) error {
	root := &cobra.Command{Use: "memeradar", Short: "Free-tier memecoin early-pump radar"}
	root.AddCommand(serveCmd())
	return root.ExecuteContext(ctx)
}
