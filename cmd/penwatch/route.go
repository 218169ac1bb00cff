package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/penwatch/connectivity"
)

func newRouteCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Edit where penwatch services run",
		Long: `Services: penwatch_enhance, penwatch_message, penwatch_status.
Strategies: ` + strings.Join(connectivity.Strategies, ", ") + `.

A running daemon reloads the table within a second.`,
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withStore(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				routes, err := connectivity.NewAdmin(db).ListRoutes(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				fmt.Fprintln(tw, headerStyle.Render("SERVICE")+"\tSTRATEGY\tENDPOINT\tCONFIG")
				for _, r := range routes {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ServiceName, r.Strategy, r.Endpoint, r.Config)
				}
				return tw.Flush()
			})
		},
	}

	var config string
	set := &cobra.Command{
		Use:   "set <service> <strategy> [endpoint]",
		Short: "Create or replace a route",
		Example: `  penwatch route set penwatch_enhance http https://worker:7878/v1/call/penwatch_enhance \
      --config '{"bearer_token":"s3cret","max_retries":2,"fallback_local":true}'
  penwatch route set penwatch_enhance mcp https://tools/mcp --config '{"tool_name":"penwatch_enhance_text"}'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rr := connectivity.RouteRow{ServiceName: args[0], Strategy: args[1]}
			if len(args) == 3 {
				rr.Endpoint = args[2]
			}
			if config != "" {
				rr.Config = json.RawMessage(config)
			}
			return o.withStore(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				return connectivity.NewAdmin(db).UpsertRoute(ctx, rr)
			})
		},
	}
	set.Flags().StringVar(&config, "config", "", "route config JSON")

	rm := &cobra.Command{
		Use:   "rm <service>",
		Short: "Delete a route; the service runs in-process again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				return connectivity.NewAdmin(db).DeleteRoute(ctx, args[0])
			})
		},
	}

	disable := &cobra.Command{
		Use:   "disable <service>",
		Short: "Switch an existing route to noop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withStore(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				return connectivity.NewAdmin(db).SetStrategy(ctx, args[0], "noop")
			})
		},
	}

	cmd.AddCommand(list, set, rm, disable)
	return cmd
}
