package main

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"helpmate/profile"

	"github.com/spf13/cobra"
)

func newProfileCommand(ctx *commandContext) *cobra.Command {
	profileCmd := &cobra.Command{
		Use:   "profile",
		Short: "View and edit your profile",
	}

	profileCmd.AddCommand(&cobra.Command{
		Use:   "show [user-id]",
		Short: "Show a profile (yours by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				var userID string
				if len(args) == 1 {
					userID = args[0]
				} else {
					id, err := ctx.userID(cmd.Context(), a)
					if err != nil {
						return err
					}
					userID = id
				}
				p, err := a.profiles.Get(cmd.Context(), userID)
				if errors.Is(err, profile.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "No profile for %s yet\n", userID)
					return nil
				}
				if err != nil {
					return err
				}
				return printProfile(cmd, ctx, p)
			})
		},
	})

	profileCmd.AddCommand(&cobra.Command{
		Use:   "set <field=value>...",
		Short: "Edit profile fields (name, phone, age, bio, email, radiusMiles)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEditor(cmd, func(a *app, e *profile.Editor) error {
				for _, arg := range args {
					field, raw, ok := strings.Cut(arg, "=")
					if !ok {
						return fmt.Errorf("expected field=value, got %q", arg)
					}
					value, err := profileValue(field, raw)
					if err != nil {
						return err
					}
					if err := e.Edit(field, value); err != nil {
						return err
					}
				}
				return nil
			})
		},
	})

	profileCmd.AddCommand(&cobra.Command{
		Use:   "address <address>",
		Short: "Save your address and look up its location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEditor(cmd, func(a *app, e *profile.Editor) error {
				p, err := e.SaveAddress(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if p.Location == nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "Address saved, but no location was found for it")
				}
				return nil
			})
		},
	})

	profileCmd.AddCommand(&cobra.Command{
		Use:   "avatar <image-file>",
		Short: "Upload a new profile picture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withEditor(cmd, func(a *app, e *profile.Editor) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				r := bufio.NewReader(f)
				head, _ := r.Peek(512)
				ref, err := e.ReplaceAvatar(cmd.Context(), r, http.DetectContentType(head))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Avatar stored at %s\n", ref)
				return nil
			})
		},
	})

	return profileCmd
}

// withEditor opens the signed-in user's profile editor, runs fn, flushes
// pending edits and prints the saved profile.
func (c *commandContext) withEditor(cmd *cobra.Command, fn func(*app, *profile.Editor) error) error {
	return c.withApp(cmd, func(a *app) error {
		session, err := c.session(cmd.Context(), a)
		if err != nil {
			return err
		}
		e := a.editor(session)
		if _, err := e.Open(cmd.Context()); err != nil {
			return err
		}
		ferr := fn(a, e)
		p, perr := e.Profile()
		if err := errors.Join(ferr, e.Close(cmd.Context())); err != nil {
			return err
		}
		if perr != nil {
			return perr
		}
		return printProfile(cmd, c, p)
	})
}

func profileValue(field, raw string) (any, error) {
	if field == profile.FieldRadiusMiles {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("radiusMiles: %w", err)
		}
		return v, nil
	}
	return raw, nil
}

func printProfile(cmd *cobra.Command, ctx *commandContext, p profile.Profile) error {
	if ctx.jsonFlag {
		return writeJSON(cmd, struct {
			UserID string `json:"userId"`
			profile.Profile
			Complete bool `json:"complete"`
		}{p.UserID, p, p.IsComplete()})
	}
	location := "-"
	if p.Location != nil {
		location = fmt.Sprintf("%.5f, %.5f", p.Location.Lat, p.Location.Lng)
	}
	rows := [][]string{
		{"User", p.UserID},
		{"Name", orDash(p.Name)},
		{"Phone", orDash(p.Phone)},
		{"Age", orDash(p.Age)},
		{"Email", orDash(p.Email)},
		{"Bio", orDash(p.Bio)},
		{"Address", orDash(p.Address)},
		{"Location", location},
		{"Search radius", fmt.Sprintf("%.0f mi", p.SearchRadius())},
		{"Avatar", orDash(p.AvatarRef)},
		{"Complete", yesNo(p.IsComplete())},
	}
	printTable(cmd, []string{"Field", "Value"}, rows, nil)
	return nil
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
