package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/calbridge/internal/auth"
	"github.com/tonimelisma/calbridge/internal/provider"
)

// Token state labels for status output.
const (
	tokenStateMissing   = "missing"
	tokenStateExpired   = "expired"
	tokenStateValid     = "valid"
	tokenStateRefreshes = "expired, refreshable"
)

func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect a Google account through the browser",
		Long: `Run the OAuth authorization code flow in the browser and store the
resulting tokens for the current user. Offline access is always requested so a
refresh token is issued.`,
		RunE: runConnect,
	}
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Delete the stored credential for the current user",
		RunE:  runDisconnect,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show credential and service status for the current user",
		RunE:  runStatus,
	}
}

func runConnect(cmd *cobra.Command, _ []string) error {
	if resolvedCfg.OAuth.ClientID == "" {
		return errors.New("oauth.client_id is not set; add it to the config file or set CALBRIDGE_CLIENT_ID")
	}

	ctx := shutdownContext(cmd.Context(), buildLogger())

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	userID := currentUser()

	grant, err := auth.Login(ctx, a.oauth, openBrowser, a.logger)
	if err != nil {
		return err
	}

	cred, err := a.manager.Connect(ctx, userID, grant)
	if err != nil {
		return err
	}

	if !cred.HasRefreshToken() {
		statusf("Warning: no refresh token was issued; reconnect once the access token expires.\n")
	}

	statusf("Connected user %s.\n", userID)

	return nil
}

func runDisconnect(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	userID := currentUser()

	if err := a.manager.Disconnect(cmd.Context(), userID); err != nil {
		return err
	}

	statusf("Disconnected user %s.\n", userID)

	return nil
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	UserID          string            `json:"user_id"`
	Connected       bool              `json:"connected"`
	Token           string            `json:"token"`
	HasRefreshToken bool              `json:"has_refresh_token"`
	ExpiresAt       string            `json:"expires_at,omitempty"`
	Services        map[string]string `json:"services"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	userID := currentUser()

	st, err := a.manager.Status(ctx, userID)
	if err != nil {
		return err
	}

	out := statusOutput{
		UserID:          userID,
		Connected:       st.Connected,
		Token:           tokenState(st),
		HasRefreshToken: st.HasRefreshToken,
		Services:        make(map[string]string),
	}

	if !st.ExpiresAt.IsZero() {
		out.ExpiresAt = st.ExpiresAt.Format(time.RFC3339)
	}

	// Building a client is what refreshes a stale token, so service
	// status reflects what the next real call would see.
	for _, c := range []provider.Capability{provider.Calendar, provider.Sheets, provider.Drive} {
		res, err := a.factory.Client(ctx, userID, c)
		if err != nil {
			out.Services[string(c)] = "error: " + err.Error()
			continue
		}

		out.Services[string(c)] = res.Status.String()
	}

	if flagJSON {
		return printJSON(os.Stdout, out)
	}

	printStatusText(out)

	return nil
}

func tokenState(st auth.Status) string {
	switch {
	case st.Valid:
		return tokenStateValid
	case st.HasRefreshToken:
		return tokenStateRefreshes
	case st.Connected:
		return tokenStateExpired
	default:
		return tokenStateMissing
	}
}

func printStatusText(out statusOutput) {
	fmt.Printf("User:    %s\n", out.UserID)
	fmt.Printf("Token:   %s\n", out.Token)

	if out.ExpiresAt != "" {
		fmt.Printf("Expires: %s\n", out.ExpiresAt)
	}

	fmt.Printf("Refresh: %t\n", out.HasRefreshToken)

	for _, c := range []provider.Capability{provider.Calendar, provider.Sheets, provider.Drive} {
		fmt.Printf("  %-10s %s\n", c, out.Services[string(c)])
	}
}
