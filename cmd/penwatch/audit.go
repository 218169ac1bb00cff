package main

import (
	"context"
	"database/sql"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/penwatch/observability"
)

func newAuditCmd(o *rootOptions) *cobra.Command {
	var limit int
	var events bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent message-channel calls or enhancement sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withStore(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				if events {
					evs, err := observability.RecentEvents(ctx, db, "enhancement", limit)
					if err != nil {
						return err
					}
					fmt.Fprintln(tw, headerStyle.Render("TIME")+"\tSESSION\tACTION\tOK\tDETAILS")
					for _, e := range evs {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", e.CreatedAt.Format(time.DateTime), e.EntityID, e.Action, e.Success, e.Details)
					}
					return tw.Flush()
				}
				entries, err := observability.RecentAudit(ctx, db, limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, headerStyle.Render("TIME")+"\tVIA\tOPERATION\tSTATUS\tMS\tERROR")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", e.Timestamp.Format(time.DateTime), e.Component, e.Operation, e.Status, e.DurationMs, e.ErrorMessage)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of rows")
	cmd.Flags().BoolVar(&events, "sessions", false, "show enhancement sessions instead of channel calls")
	return cmd
}

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <secret>",
		Short: "Print the bcrypt hash to put in channel.token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}
