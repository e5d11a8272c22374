package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"helpmate/match"

	"github.com/spf13/cobra"
)

type matchRow struct {
	match.Match
	Title string `json:"taskTitle,omitempty"`
}

func newMatchCommand(ctx *commandContext) *cobra.Command {
	matchCmd := &cobra.Command{
		Use:   "match",
		Short: "Track and advance your matches",
	}

	var role, status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List your matches as a worker or a poster",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := match.ParseStatusFilter(status)
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, func(a *app) error {
				userID, err := ctx.userID(cmd.Context(), a)
				if err != nil {
					return err
				}
				var matches []match.Match
				switch strings.ToLower(role) {
				case "", string(match.RoleWorker):
					matches, err = a.matches.ListForWorker(cmd.Context(), userID, filter)
				case string(match.RolePoster):
					matches, err = a.matches.ListForPoster(cmd.Context(), userID, filter)
				default:
					return fmt.Errorf("unknown role %q (worker or poster)", role)
				}
				if err != nil {
					return err
				}
				return printMatches(cmd, ctx, withTitles(cmd.Context(), a, matches))
			})
		},
	}
	listCmd.Flags().StringVar(&role, "as", "worker", "List as worker or poster")
	listCmd.Flags().StringVar(&status, "status", "all", "Filter: all, pending, active")
	matchCmd.AddCommand(listCmd)

	matchCmd.AddCommand(&cobra.Command{
		Use:   "show <match-id>",
		Short: "Show one match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				m, err := a.matches.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printMatches(cmd, ctx, withTitles(cmd.Context(), a, []match.Match{m}))
			})
		},
	})

	for _, step := range []struct {
		use, short string
		next       match.Status
	}{
		{"accept", "Accept a pending match", match.StatusAccepted},
		{"start", "Start work on an accepted match", match.StatusInProgress},
		{"complete", "Mark the work done and record earnings", match.StatusCompleted},
		{"cancel", "Cancel a match", match.StatusCancelled},
	} {
		matchCmd.AddCommand(newTransitionCommand(ctx, step.use, step.short, step.next))
	}

	return matchCmd
}

func newTransitionCommand(ctx *commandContext, use, short string, next match.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <match-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				actorID, err := ctx.userID(cmd.Context(), a)
				if err != nil {
					return err
				}
				res, err := a.matches.Transition(cmd.Context(), match.TransitionParams{
					MatchID: args[0],
					ActorID: actorID,
					Next:    next,
				})
				if errors.Is(err, match.ErrInvalidTransition) && next == match.StatusCompleted {
					// A completed match may still be missing its earnings.
					if rec, ferr := a.matches.FinishCompletion(cmd.Context(), args[0], actorID); ferr == nil {
						if ctx.jsonFlag {
							return writeJSON(cmd, rec)
						}
						fmt.Fprintf(cmd.OutOrStdout(), "Match %s already completed. Earned %s for %q\n", args[0], money(rec.Amount), rec.TaskTitle)
						return nil
					}
				}
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Match %s: %s -> %s\n", res.Match.ID, res.Previous, res.Match.Status)
				if res.Earnings != nil {
					fmt.Fprintf(out, "Earned %s for %q\n", money(res.Earnings.Amount), res.Earnings.TaskTitle)
				}
				for _, p := range res.Prompts {
					if p.RaterID == actorID {
						fmt.Fprintf(out, "Rate the %s: helpmate rate %s --score 1-5\n", counterpartRole(p.RaterRole), p.MatchID)
					}
				}
				return nil
			})
		},
	}
}

func counterpartRole(r match.Role) string {
	if r == match.RoleWorker {
		return "poster"
	}
	return "worker"
}

func newRateCommand(ctx *commandContext) *cobra.Command {
	var (
		score   int
		comment string
		skip    bool
	)
	rateCmd := &cobra.Command{
		Use:   "rate <match-id>",
		Short: "Rate the other side of a completed match",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				raterID, err := ctx.userID(cmd.Context(), a)
				if err != nil {
					return err
				}
				if skip {
					m, err := a.matches.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					role, ok := m.RoleOf(raterID)
					if !ok {
						return match.ErrForbidden
					}
					a.matches.SkipRating(cmd.Context(), match.RatingPrompt{
						MatchID: m.ID, TaskID: m.TaskID, RaterID: raterID, RaterRole: role, RatedID: m.Counterpart(raterID),
					})
					fmt.Fprintln(cmd.OutOrStdout(), "Rating skipped")
					return nil
				}
				rt, err := a.matches.SubmitRating(cmd.Context(), match.RatingParams{
					MatchID: args[0],
					RaterID: raterID,
					Score:   score,
					Comment: comment,
				})
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, rt)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rated %s %d/5 (%s)\n", rt.RatedID, rt.Score, match.ScoreLabel(rt.Score))
				return nil
			})
		},
	}
	rateCmd.Flags().IntVar(&score, "score", 0, "Score from 1 (Poor) to 5 (Excellent)")
	rateCmd.Flags().StringVar(&comment, "comment", "", "Optional comment")
	rateCmd.Flags().BoolVar(&skip, "skip", false, "Dismiss the rating prompt without rating")
	return rateCmd
}

func newEarningsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "earnings",
		Short: "Summarize your completed tasks and pay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				workerID, err := ctx.userID(cmd.Context(), a)
				if err != nil {
					return err
				}
				summary, err := a.matches.Earnings(cmd.Context(), workerID, time.Now())
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, summary)
				}
				avg := "-"
				if summary.AverageRating > 0 {
					avg = fmt.Sprintf("%.1f", summary.AverageRating)
				}
				printTable(cmd, []string{"Total", "This week", "Tasks", "Avg rating"}, [][]string{{
					money(summary.Total), money(summary.ThisWeek), fmt.Sprint(summary.Tasks), avg,
				}}, []columnAlignment{alignRight, alignRight, alignRight, alignRight})

				rows := make([][]string, 0, len(summary.Entries))
				for _, e := range summary.Entries {
					rating := "-"
					if e.Score > 0 {
						rating = fmt.Sprintf("%d (%s)", e.Score, match.ScoreLabel(e.Score))
					}
					rows = append(rows, []string{shortTime(e.CompletedAt), e.TaskTitle, money(e.Amount), rating})
				}
				printTable(cmd, []string{"Completed", "Task", "Amount", "Rating"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight})
				return nil
			})
		},
	}
}

// withTitles looks up task titles for display. Missing tasks keep a blank
// title.
func withTitles(ctx context.Context, a *app, matches []match.Match) []matchRow {
	titles := make(map[string]string)
	out := make([]matchRow, 0, len(matches))
	for _, m := range matches {
		title, ok := titles[m.TaskID]
		if !ok {
			if t, err := a.tasks.Get(ctx, m.TaskID); err == nil {
				title = t.Title
			}
			titles[m.TaskID] = title
		}
		out = append(out, matchRow{Match: m, Title: title})
	}
	return out
}

func printMatches(cmd *cobra.Command, ctx *commandContext, rows []matchRow) error {
	if ctx.jsonFlag {
		type matchJSON struct {
			ID string `json:"id"`
			matchRow
		}
		out := make([]matchJSON, 0, len(rows))
		for _, r := range rows {
			out = append(out, matchJSON{ID: r.ID, matchRow: r})
		}
		return writeJSON(cmd, out)
	}
	table := make([][]string, 0, len(rows))
	for _, r := range rows {
		table = append(table, []string{r.ID, orDash(r.Title), r.WorkerID, r.PosterID, string(r.Status), shortTime(r.UpdatedAt)})
	}
	printTable(cmd, []string{"ID", "Task", "Worker", "Poster", "Status", "Updated"}, table, nil)
	return nil
}
