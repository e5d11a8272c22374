package main

import (
	"fmt"
	"strings"

	"helpmate/task"

	"github.com/spf13/cobra"
)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Post and browse tasks",
	}
	taskCmd.AddCommand(newTaskPostCommand(ctx))

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List open tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				if limit <= 0 {
					limit = a.cfg.Feed.PageSize
				}
				tasks, err := a.tasks.ListOpen(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printTasks(cmd, ctx, tasks)
			})
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 0, "Maximum tasks to show (default feed.page_size)")
	taskCmd.AddCommand(listCmd)

	taskCmd.AddCommand(&cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				t, err := a.tasks.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, taskView(t))
				}
				rows := [][]string{
					{"ID", t.ID},
					{"Title", t.Title},
					{"Category", t.Category},
					{"Description", t.Description},
					{"Pay", money(t.Pay)},
					{"Estimated time", orDash(t.TimeEstimate)},
					{"Preferred", strings.TrimSpace(t.PreferredDate + " " + t.PreferredTime)},
					{"Urgency", orDash(t.Urgency)},
					{"Requirements", orDash(strings.Join(requirementLabels(t.Requirements), ", "))},
					{"Status", string(t.Status)},
					{"Posted", shortTime(t.CreatedAt)},
				}
				printTable(cmd, []string{"Field", "Value"}, rows, nil)
				return nil
			})
		},
	})

	return taskCmd
}

func newTaskPostCommand(ctx *commandContext) *cobra.Command {
	var (
		d    task.Draft
		reqs []string
	)
	postCmd := &cobra.Command{
		Use:   "post",
		Short: "Post a new task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				posterID, err := ctx.userID(cmd.Context(), a)
				if err != nil {
					return err
				}
				if err := applyRequirements(&d.Requirements, reqs); err != nil {
					return err
				}
				t, err := a.tasks.Create(cmd.Context(), posterID, d)
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, taskView(t))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Posted task %s\n", t.ID)
				if t.PosterLocation == nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "Your profile has no location yet; the task will show without a distance")
				}
				return nil
			})
		},
	}

	flags := postCmd.Flags()
	flags.StringVar(&d.Title, "title", "", "Task title")
	flags.StringVar(&d.Category, "category", "", "Category: "+strings.Join(task.Categories, ", "))
	flags.StringVar(&d.CustomCategory, "custom-category", "", "Label used when the category is Other")
	flags.StringVar(&d.Description, "description", "", "What needs doing")
	flags.Float64Var(&d.Pay, "pay", 0, "Payment in dollars")
	flags.StringVar(&d.TimeEstimate, "estimate", "", "Estimated time, for example \"2 hours\"")
	flags.StringVar(&d.PreferredDate, "date", "", "Preferred date")
	flags.StringVar(&d.PreferredTime, "time", "", "Preferred time")
	flags.StringVar(&d.Urgency, "urgency", "", "Optional urgency label")
	flags.StringSliceVar(&reqs, "require", nil, "Requirements: car, pets, tools, tech, lifting, cleaning")
	flags.StringVar(&d.Requirements.OtherDescription, "require-other", "", "Free-text requirement")
	return postCmd
}

func applyRequirements(r *task.Requirements, names []string) error {
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "car":
			r.Car = true
		case "pets":
			r.Pets = true
		case "tools":
			r.Tools = true
		case "tech":
			r.Tech = true
		case "lifting":
			r.Lifting = true
		case "cleaning":
			r.Cleaning = true
		case "":
		default:
			return fmt.Errorf("unknown requirement %q", name)
		}
	}
	r.Other = strings.TrimSpace(r.OtherDescription) != ""
	return nil
}

func requirementLabels(r task.Requirements) []string {
	var out []string
	for _, item := range []struct {
		set   bool
		label string
	}{
		{r.Car, "must have a car"},
		{r.Pets, "comfortable with pets"},
		{r.Tools, "has own tools"},
		{r.Tech, "experienced with computers"},
		{r.Lifting, "can lift heavy items"},
		{r.Cleaning, "experienced with cleaning"},
		{r.Other, r.OtherDescription},
	} {
		if item.set {
			out = append(out, item.label)
		}
	}
	return out
}

type taskJSON struct {
	ID string `json:"id"`
	task.Task
}

func taskView(t task.Task) taskJSON {
	return taskJSON{ID: t.ID, Task: t}
}

func printTasks(cmd *cobra.Command, ctx *commandContext, tasks []task.Task) error {
	if ctx.jsonFlag {
		out := make([]taskJSON, 0, len(tasks))
		for _, t := range tasks {
			out = append(out, taskView(t))
		}
		return writeJSON(cmd, out)
	}
	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, []string{t.ID, t.Title, t.Category, money(t.Pay), string(t.Status), shortTime(t.CreatedAt)})
	}
	printTable(cmd, []string{"ID", "Title", "Category", "Pay", "Status", "Posted"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight})
	return nil
}
