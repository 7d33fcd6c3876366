package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"codeberg.org/lexicore/cohortsync/pkg/controller"
	"github.com/spf13/cobra"
)

var (
	serverAddr string
	apiPrefix  = "/api/v1"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the latest passes of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(serverAddr + apiPrefix + "/status")
			if err != nil {
				return fmt.Errorf("failed to reach server: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
			}

			var statuses []controller.Status
			if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
				return fmt.Errorf("failed to decode server response: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, '\t', 0)
			fmt.Fprintln(w, "KIND\tSTATUS\tLAST SYNC\tCOHORTS\tADDED\tREMOVED\tERRORS\tMESSAGE")
			for _, st := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					st.Kind,
					st.Status,
					st.LastSync.Format("2006-01-02 15:04:05"),
					st.GroupsSynchronized,
					st.MembersAdded,
					st.MembersRemoved,
					st.Errors,
					st.Message,
				)
			}
			return w.Flush()
		},
	}
}

func newReconcileCommand() *cobra.Command {
	var (
		force bool
		user  string
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Ask a running server to queue a full pass or a single user pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := serverAddr + apiPrefix + "/reconcile"
			if force {
				target += "?forceUnsubscribe=true"
			}
			if user != "" {
				target = serverAddr + apiPrefix + "/users/" + url.PathEscape(user) + "/sync"
			}

			resp, err := http.Post(target, "application/json", nil)
			if err != nil {
				return fmt.Errorf("failed to reach server: %w", err)
			}
			defer resp.Body.Close()

			var result map[string]any
			body, _ := io.ReadAll(resp.Body)
			json.Unmarshal(body, &result)

			switch resp.StatusCode {
			case http.StatusAccepted:
				if user != "" {
					fmt.Printf("✓ Sync queued for user %q\n", user)
				} else {
					fmt.Println("✓ Reconciliation queued")
				}
			case http.StatusConflict:
				fmt.Println("Reconciliation already queued")
			default:
				if errMsg, ok := result["error"].(string); ok {
					return fmt.Errorf("server error: %s", errMsg)
				}
				return fmt.Errorf("unexpected response (%d): %s", resp.StatusCode, string(body))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force-unsubscribe", false, "Apply removals even when unsubscribe is disabled")
	cmd.Flags().StringVar(&user, "user", "", "Queue a single user pass instead of a full pass")
	return cmd
}
