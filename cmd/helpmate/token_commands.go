package main

import (
	"fmt"
	"strings"

	"helpmate/auth"

	"github.com/spf13/cobra"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue, inspect and revoke session tokens",
	}

	var userID string
	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a session token for a user id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				token, err := a.issuer.Issue(userID)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	issueCmd.Flags().StringVar(&userID, "for", "", "User id the token vouches for")
	_ = issueCmd.MarkFlagRequired("for")
	tokenCmd.AddCommand(issueCmd)

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "verify <token>",
		Short: "Check a token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				claims, err := a.issuer.Verify(cmd.Context(), strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if ctx.jsonFlag {
					return writeJSON(cmd, claims)
				}
				printTable(cmd, []string{"User", "Token ID", "Issued", "Expires"}, [][]string{{
					claims.UserID, claims.TokenID, shortTime(claims.IssuedAt), shortTime(claims.ExpiresAt),
				}}, nil)
				return nil
			})
		},
	})

	tokenCmd.AddCommand(&cobra.Command{
		Use:   "sign-out",
		Short: "Revoke the current session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				s, err := ctx.session(cmd.Context(), a)
				if err != nil {
					return err
				}
				if _, ok := s.(*auth.TokenSession); !ok {
					return fmt.Errorf("sign-out needs --token")
				}
				if err := s.SignOut(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	})

	return tokenCmd
}
