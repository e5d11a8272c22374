package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"helpmate/feed"
	"helpmate/profile"

	"github.com/spf13/cobra"
)

func newFeedCommand(ctx *commandContext) *cobra.Command {
	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Browse open tasks near you",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withFeed(cmd, func(a *app, f *feed.Feed) error {
				return printCandidates(cmd, ctx, f.Candidates())
			})
		},
	}

	feedCmd.AddCommand(&cobra.Command{
		Use:   "like <task-id>",
		Short: "Like a task in your feed, creating a pending match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withFeed(cmd, func(a *app, f *feed.Feed) error {
				m, err := f.Decide(cmd.Context(), args[0], feed.Like)
				if errors.Is(err, feed.ErrUnknownCandidate) {
					return fmt.Errorf("task %s is not in your feed", args[0])
				}
				if err != nil {
					return err
				}
				return printMatches(cmd, ctx, []matchRow{{Match: *m}})
			})
		},
	})

	feedCmd.AddCommand(&cobra.Command{
		Use:   "swipe",
		Short: "Walk the feed one task at a time (l = like, p = pass, q = quit)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withFeed(cmd, func(a *app, f *feed.Feed) error {
				return swipe(cmd, f)
			})
		},
	})

	return feedCmd
}

// withFeed builds and refreshes the signed-in worker's feed.
func (c *commandContext) withFeed(cmd *cobra.Command, fn func(*app, *feed.Feed) error) error {
	return c.withApp(cmd, func(a *app) error {
		workerID, err := c.userID(cmd.Context(), a)
		if err != nil {
			return err
		}
		viewer := feed.Viewer{WorkerID: workerID}
		p, err := a.profiles.Get(cmd.Context(), workerID)
		switch {
		case err == nil:
			viewer = feed.ViewerFromProfile(p)
		case errors.Is(err, profile.ErrNotFound):
		default:
			return err
		}

		f := feed.New(a.tasks, a.matches, viewer,
			feed.WithPageSize(a.cfg.Feed.PageSize),
			feed.WithLogger(a.logger),
		)
		if _, err := f.Refresh(cmd.Context()); err != nil {
			return err
		}
		return fn(a, f)
	})
}

func swipe(cmd *cobra.Command, f *feed.Feed) error {
	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())
	for {
		c, err := f.Next()
		if errors.Is(err, feed.ErrEndOfFeed) {
			fmt.Fprintln(out, "No more tasks nearby")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  %s  %s  (%s)\n%s\n[l]ike / [p]ass / [q]uit: ",
			c.Item.Title, money(c.Item.Pay), c.Label, c.Item.Category, c.Item.Description)
		if !in.Scan() {
			return in.Err()
		}

		var d feed.Decision
		switch strings.ToLower(strings.TrimSpace(in.Text())) {
		case "l", "like":
			d = feed.Like
		case "p", "pass", "":
			d = feed.Pass
		case "q", "quit":
			return nil
		default:
			continue
		}
		m, err := f.Decide(cmd.Context(), c.Item.ID, d)
		if err != nil {
			return err
		}
		if m != nil {
			fmt.Fprintf(out, "Liked. Match %s is pending.\n", m.ID)
		}
	}
}

func printCandidates(cmd *cobra.Command, ctx *commandContext, cands []feed.Candidate) error {
	if ctx.jsonFlag {
		type candidateJSON struct {
			taskJSON
			Distance *float64 `json:"distanceMiles,omitempty"`
			Label    string   `json:"label"`
		}
		out := make([]candidateJSON, 0, len(cands))
		for _, c := range cands {
			v := candidateJSON{taskJSON: taskView(c.Item), Label: c.Label}
			if c.Known {
				d := c.Distance
				v.Distance = &d
			}
			out = append(out, v)
		}
		return writeJSON(cmd, out)
	}
	rows := make([][]string, 0, len(cands))
	for _, c := range cands {
		rows = append(rows, []string{c.Item.ID, c.Item.Title, c.Item.Category, money(c.Item.Pay), c.Label})
	}
	printTable(cmd, []string{"ID", "Title", "Category", "Pay", "Distance"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight})
	return nil
}
