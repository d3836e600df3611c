// Command drive-token runs the OAuth consent flow for the drive.file scope
// and prints a session token plus the matching drive-token request, so a
// local deployment can be exercised without a frontend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"moneymanager/internal/cli"
	"moneymanager/internal/config"
	"moneymanager/internal/core"
	"moneymanager/internal/identity"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("drive-token")

	clientJSON := os.Getenv("GOOGLE_OAUTH_CLIENT_JSON")
	clientFile := os.Getenv("GOOGLE_OAUTH_CLIENT_FILE")
	var b []byte
	var err error
	switch {
	case clientJSON != "":
		b = []byte(clientJSON)
	case clientFile != "":
		b, err = os.ReadFile(clientFile)
		if err != nil {
			cli.Fatal(logger, "Failed to read OAuth client file", err)
		}
	default:
		cli.Fatal(logger, "Missing OAuth client", fmt.Errorf("set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE"))
	}

	oauthCfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		cli.Fatal(logger, "Invalid OAuth client", err)
	}

	// The redirect URI must be registered on the OAuth client.
	redirectPort := os.Getenv("OAUTH_REDIRECT_PORT")
	if redirectPort == "" {
		redirectPort = "8085"
	}
	oauthCfg.RedirectURL = "http://localhost:" + redirectPort + "/callback"

	state := uuid.NewString()
	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	srv := &http.Server{Addr: ":" + redirectPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		if errStr := r.URL.Query().Get("error"); errStr != "" {
			http.Error(w, "OAuth error: "+errStr, http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "You may close this window and return to the terminal.")
		codeCh <- r.URL.Query().Get("code")
		go func() { time.Sleep(500 * time.Millisecond); _ = srv.Close() }()
	})
	go func() { _ = srv.ListenAndServe() }()

	fmt.Printf("Open this URL to authorize:\n%s\n", oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOnline))

	var code string
	select {
	case code = <-codeCh:
	case <-time.After(5 * time.Minute):
		cli.Fatal(logger, "Authorization failed", fmt.Errorf("timed out"))
	case <-signalChan():
		cli.Fatal(logger, "Authorization failed", fmt.Errorf("interrupted"))
	}

	tok, err := oauthCfg.Exchange(context.Background(), code)
	if err != nil {
		cli.Fatal(logger, "Token exchange failed", err)
	}

	out := map[string]any{
		"accessToken": tok.AccessToken,
		"expiresAt":   tok.Expiry,
	}

	// With a JWT secret configured, also mint a session token for a local
	// principal so the drive token can be registered right away.
	cfg := config.Load()
	if len(cfg.JWTSecret) >= 32 {
		p := core.Principal{
			ID:          envOr("DEV_PRINCIPAL_ID", "dev-user"),
			Email:       envOr("DEV_PRINCIPAL_EMAIL", "dev@example.com"),
			DisplayName: os.Getenv("DEV_PRINCIPAL_NAME"),
			Providers:   []string{"google.com"},
		}
		session, err := identity.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL).Issue(p, uuid.NewString())
		if err != nil {
			cli.Fatal(logger, "Failed to issue session token", err)
		}
		out["sessionToken"] = session
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		cli.Fatal(logger, "Failed to write output", err)
	}
	fmt.Fprintf(os.Stderr, "\nRegister it with:\n  curl -X PUT -H 'Authorization: Bearer <sessionToken>' -d '{\"accessToken\":\"...\"}' %s/api/session/drive-token\n", cfg.AppURL)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func signalChan() <-chan os.Signal {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	return c
}
