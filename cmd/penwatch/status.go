package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/penwatch/observability"
	"github.com/hazyhaar/penwatch/penwatch"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	urlStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)
)

// staleAfter marks a heartbeat dead after two missed beats.
const staleAfter = 45 * time.Second

func newStatusCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon heartbeat and its attached pages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			var hs *observability.HeartbeatStatus
			err := o.withStore(cmd.Context(), func(ctx context.Context, db *sql.DB) error {
				var err error
				hs, err = observability.LatestHeartbeat(ctx, db, "penwatch", staleAfter)
				return err
			})
			if err != nil {
				return err
			}
			renderHeartbeat(out, hs)

			c, err := o.client()
			if err != nil {
				fmt.Fprintln(out, dimStyle.Render("pages: "+err.Error()))
				return nil
			}
			pages, err := c.status(cmd.Context())
			if err != nil {
				fmt.Fprintln(out, badStyle.Render("pages: "+err.Error()))
				return nil
			}
			renderPages(out, pages)
			return nil
		},
	}
}

func renderHeartbeat(w io.Writer, hs *observability.HeartbeatStatus) {
	fmt.Fprintln(w, headerStyle.Render("penwatch"))
	if hs == nil {
		fmt.Fprintln(w, "  "+badStyle.Render("never started"))
		return
	}
	state := okStyle.Render("alive")
	if !hs.Alive {
		state = badStyle.Render("stale")
	}
	fmt.Fprintf(w, "  %s  pid %d on %s, last beat %s ago\n", state, hs.PID, hs.Hostname, hs.Age.Round(time.Second))
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  goroutines %d, heap %.1f MB", hs.Goroutines, hs.HeapAllocMB)))
}

func renderPages(w io.Writer, pages []penwatch.PageStatus) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("pages (%d)", len(pages))))
	for _, p := range pages {
		fmt.Fprintf(w, "  %s %s\n", p.ID, urlStyle.Render(p.State.URL))
		if p.Err != "" {
			fmt.Fprintln(w, "    "+badStyle.Render(p.Err))
			continue
		}
		target := "no target"
		if p.State.TargetID != "" {
			target = p.State.TargetKind + " " + p.State.TargetID
		}
		line := fmt.Sprintf("    %s, monitor %s", target, p.State.Monitor)
		if p.State.Session != nil {
			line += ", session " + string(p.State.Session.Status)
		}
		if p.State.OverlayVisible {
			line += ", overlay " + p.State.OverlayMode
		}
		fmt.Fprintln(w, dimStyle.Render(line))
	}
}
