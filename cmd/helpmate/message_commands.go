package main

import (
	"fmt"
	"strings"

	"helpmate/match"
	"helpmate/message"

	"github.com/spf13/cobra"
)

func newMessageCommand(ctx *commandContext) *cobra.Command {
	messageCmd := &cobra.Command{
		Use:     "message",
		Aliases: []string{"msg"},
		Short:   "Message the other side of a match",
	}

	messageCmd.AddCommand(&cobra.Command{
		Use:   "send <match-id> <text>...",
		Short: "Send a message about a match's task",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				senderID, err := ctx.userID(cmd.Context(), a)
				if err != nil {
					return err
				}
				m, err := a.matches.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if _, ok := m.RoleOf(senderID); !ok {
					return match.ErrForbidden
				}
				msg, err := a.messages.Send(cmd.Context(), message.SendParams{
					SenderID:   senderID,
					ReceiverID: m.Counterpart(senderID),
					TaskID:     m.TaskID,
					Body:       strings.Join(args[1:], " "),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s\n", msg.ID)
				return nil
			})
		},
	})

	var markRead bool
	listCmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "Show the conversation on a task, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				userID, err := ctx.userID(cmd.Context(), a)
				if err != nil {
					return err
				}
				all, err := a.messages.ListForTask(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				mine := make([]message.Message, 0, len(all))
				for _, msg := range all {
					if msg.SenderID != userID && msg.ReceiverID != userID {
						continue
					}
					if markRead && msg.ReceiverID == userID && msg.ReadAt == nil {
						if msg, err = a.messages.MarkRead(cmd.Context(), msg.ID, userID); err != nil {
							return err
						}
					}
					mine = append(mine, msg)
				}
				return printMessages(cmd, ctx, userID, mine)
			})
		},
	}
	listCmd.Flags().BoolVar(&markRead, "mark-read", true, "Mark received messages as read")
	messageCmd.AddCommand(listCmd)

	return messageCmd
}

func printMessages(cmd *cobra.Command, ctx *commandContext, userID string, msgs []message.Message) error {
	if ctx.jsonFlag {
		type messageJSON struct {
			ID string `json:"id"`
			message.Message
		}
		out := make([]messageJSON, 0, len(msgs))
		for _, m := range msgs {
			out = append(out, messageJSON{ID: m.ID, Message: m})
		}
		return writeJSON(cmd, out)
	}
	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		from := m.SenderID
		if from == userID {
			from = "you"
		}
		read := "-"
		if m.ReadAt != nil {
			read = shortTime(*m.ReadAt)
		}
		rows = append(rows, []string{shortTime(m.CreatedAt), from, m.Body, read})
	}
	printTable(cmd, []string{"Sent", "From", "Message", "Read"}, rows, nil)
	return nil
}
