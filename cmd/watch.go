package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cadence-import/internal/progress"
)

var watchSessionID string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print an import session's progress events as JSON lines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("watch"); err != nil {
			return err
		}
		rdb, err := initRedis(ctx)
		if err != nil {
			return err
		}
		defer rdb.Close() //nolint:errcheck

		return watchSession(ctx, progress.NewRedisReporter(rdb), watchSessionID, os.Stdout)
	},
}

// watchSession writes events until the result arrives or ctx is done.
func watchSession(ctx context.Context, sub eventSubscriber, sessionID string, w io.Writer) error {
	events, err := sub.Subscribe(ctx, sessionID)
	if err != nil {
		return eris.Wrap(err, "watch session")
	}
	enc := json.NewEncoder(w)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			return eris.Wrap(err, "write event")
		}
	}
	return nil
}

func init() {
	watchCmd.Flags().StringVar(&watchSessionID, "session", "", "session id (required)")
	_ = watchCmd.MarkFlagRequired("session")
	rootCmd.AddCommand(watchCmd)
}
