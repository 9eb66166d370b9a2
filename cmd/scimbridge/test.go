package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dhawalhost/scimbridge/internal/connector"
)

func newTestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test [connector-id...]",
		Short: "Check that connectors reach their service with the configured credentials.",
		Long:  `Runs the connection test of the named connectors, or of every configured connector when none is named.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := a.registry(prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer registry.Close()

			svc := connector.NewService(registry, connector.ServiceOptions{Logger: a.logger})
			ids := args
			if len(ids) == 0 {
				for _, info := range svc.ListConnectors(cmd.Context()) {
					ids = append(ids, info.ID)
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("no connectors configured")
			}

			failed := 0
			out := cmd.OutOrStdout()
			for _, id := range ids {
				if err := svc.TestConnection(cmd.Context(), id); err != nil {
					failed++
					fmt.Fprintf(out, "%s\tFAIL\t%v\n", id, err)
					continue
				}
				fmt.Fprintf(out, "%s\tOK\n", id)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d connection tests failed", failed, len(ids))
			}
			return nil
		},
	}
}
