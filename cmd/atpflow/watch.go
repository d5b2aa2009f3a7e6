package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/ATPFlow/internal/hermes"
)

func newWatchCommand(c *commandContext) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print workflow events from NATS as they happen",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.Hermes.URL == "" {
				return fmt.Errorf("hermes.url is not configured")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			nc, err := hermes.NewNATSClient(ctx, cfg.Hermes.URL, newLogger(cfg.Logging, os.Stderr))
			if err != nil {
				return err
			}
			defer nc.Close()

			var mu sync.Mutex
			out := cmd.OutOrStdout()
			err = nc.Subscribe(subject, func(subj string, data []byte) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out, "%s %s\n", subj, data)
			})
			if err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", hermes.SubjectAll, "Subject filter")
	return cmd
}
