package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/blimp/internal/gateway"
)

func init() {
	rootCmd.AddCommand(statusCmd, reconnectCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the gateway session of a running serve",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		var snap gateway.Snapshot
		if err := callStatus(cmd.Context(), http.MethodGet, statusURL(cfg.HTTP.Listen, "/api/session"), &snap); err != nil {
			return err
		}

		seq := "-"
		if snap.LastSequence != nil {
			seq = fmt.Sprint(*snap.LastSequence)
		}
		session := snap.SessionID
		if session == "" {
			session = "-"
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "STATE\tSESSION\tRESUMABLE\tSEQ\tGENERATION")
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\n", snap.State, session, snap.Resumable, seq, snap.Generation)
		return w.Flush()
	},
}

var reconnectCmd = &cobra.Command{
	Use:   "reconnect",
	Short: "Ask a running serve to drop and resume its gateway connection",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if err := callStatus(cmd.Context(), http.MethodPost, statusURL(cfg.HTTP.Listen, "/api/reconnect"), nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Reconnect requested.")
		return nil
	},
}

func statusURL(listen, path string) string {
	if len(listen) > 0 && listen[0] == ':' {
		listen = "127.0.0.1" + listen
	}
	return "http://" + listen + path
}

func callStatus(ctx context.Context, method, url string, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("status server unreachable (is serve running with http.enabled?): %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status server error (status %d): %s", resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
