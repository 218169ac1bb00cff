package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/penwatch/penwatch"
)

func newPromptCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Read or change the stored instruction",
		Long: `The stored instruction is the text sent to the model with the field's
content. A literal {text} is replaced by the field text; otherwise the
text is appended after it. A running daemon picks changes up within a
second.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the stored instruction",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return o.withStore(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					store, err := penwatch.OpenStore(ctx, db, nil)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), store.Prompt())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set <instruction>",
			Short: "Store a new instruction",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				p := strings.Join(args, " ")
				return o.withStore(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					store, err := penwatch.OpenStore(ctx, db, nil)
					if err != nil {
						return err
					}
					return store.SetPrompt(ctx, p)
				})
			},
		},
	)
	return cmd
}

func newEnhanceCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enhance [instruction]",
		Short: "Save the instruction and rewrite the focused field now",
		Long: `Sends PROMPT_FROM_POPUP to a running penwatch: the instruction is stored
and the most recently focused field is rewritten with it. Without an
argument the stored instruction is used.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			msg := penwatch.Message{Type: penwatch.MsgPromptFromPopup, Prompt: strings.Join(args, " ")}
			if msg.Prompt == "" {
				if err := o.withStore(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
					store, err := penwatch.OpenStore(ctx, db, nil)
					if err != nil {
						return err
					}
					msg.Prompt = store.Prompt()
					return nil
				}); err != nil {
					return err
				}
			}
			var reply penwatch.PromptReply
			if err := c.send(cmd.Context(), msg, &reply); err != nil {
				return err
			}
			if !reply.Success {
				return fmt.Errorf("enhance: %s", reply.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "injected=%t enhanced=%t\n", reply.Injected, reply.Enhanced)
			return nil
		},
	}
}

func newPingCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that a penwatch daemon answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			var reply penwatch.PingReply
			if err := c.send(cmd.Context(), penwatch.Message{Type: penwatch.MsgPing}, &reply); err != nil {
				return err
			}
			if !reply.OK {
				return fmt.Errorf("ping: daemon answered not ok")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
