package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"helpmate/docstore"
	"helpmate/events"
	"helpmate/match"
	"helpmate/profile"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newWatchCommand(ctx *commandContext) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live changes until interrupted",
	}

	watchCmd.AddCommand(&cobra.Command{
		Use:   "events",
		Short: "Print match lifecycle events from NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				if a.nc == nil {
					return fmt.Errorf("nats.url is not configured")
				}
				out := cmd.OutOrStdout()
				var mu sync.Mutex
				stop, err := events.Subscribe(cmd.Context(), a.nc, a.cfg.NATS.SubjectPrefix, func(ev match.Event) {
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintf(out, "%s  %-22s match=%s task=%s actor=%s %s\n",
						ev.OccurredAt.Local().Format(time.TimeOnly), ev.Type, ev.MatchID, ev.TaskID, ev.ActorID, transitionText(ev))
				})
				if err != nil {
					return err
				}
				a.logger.Info("watching lifecycle events", "subject", events.Subject(a.cfg.NATS.SubjectPrefix, ">"))
				return waitForShutdown(map[string]gfshutdown.Operation{
					"events": func(context.Context) error { return stop() },
				})
			})
		},
	})

	watchCmd.AddCommand(&cobra.Command{
		Use:   "profile [user-id]",
		Short: "Print a profile every time it changes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				userID := ""
				if len(args) == 1 {
					userID = args[0]
				} else {
					id, err := ctx.userID(cmd.Context(), a)
					if err != nil {
						return err
					}
					userID = id
				}

				watchCtx, cancel := context.WithCancel(cmd.Context())
				defer cancel()
				snapshots, stop, err := a.store.Subscribe(watchCtx, docstore.CollectionProfiles, userID)
				if err != nil {
					return err
				}
				done := make(chan struct{})
				go func() {
					defer close(done)
					for ev := range snapshots {
						printSnapshot(cmd, ctx, a, userID, ev)
					}
				}()

				return waitForShutdown(map[string]gfshutdown.Operation{
					"profile-subscription": func(ctx context.Context) error {
						stop()
						select {
						case <-done:
							return nil
						case <-ctx.Done():
							return ctx.Err()
						}
					},
				})
			})
		},
	})

	return watchCmd
}

func printSnapshot(cmd *cobra.Command, ctx *commandContext, a *app, userID string, ev docstore.Event) {
	switch {
	case ev.Err != nil:
		a.logger.Warn("profile subscription error", "user_id", userID, "error", ev.Err)
	case !ev.Exists:
		fmt.Fprintf(cmd.OutOrStdout(), "No profile for %s yet\n", userID)
	default:
		p, err := profile.FromDocument(ev.Document)
		if err != nil {
			a.logger.Warn("profile snapshot rejected", "user_id", userID, "error", err)
			return
		}
		_ = printProfile(cmd, ctx, p)
	}
}

func transitionText(ev match.Event) string {
	if ev.Previous == "" {
		return string(ev.Next)
	}
	return fmt.Sprintf("%s -> %s", ev.Previous, ev.Next)
}

// waitForShutdown blocks until SIGINT or SIGTERM and runs the operations.
func waitForShutdown(ops map[string]gfshutdown.Operation) error {
	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, ops)
	if code := <-wait; code != 0 {
		return fmt.Errorf("shutdown finished with exit code %d", code)
	}
	return nil
}
