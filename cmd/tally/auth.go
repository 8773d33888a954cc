package main

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/adambossy/tally/internal/certs"
	"github.com/adambossy/tally/internal/config"
	"github.com/adambossy/tally/internal/plaid"
	"github.com/adambossy/tally/internal/sheets"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with external services",
		Long:  `Authenticate with external services like Plaid and Google Sheets.`,
	}

	cmd.AddCommand(authPlaidCmd())
	cmd.AddCommand(authSheetsCmd())

	return cmd
}

func authPlaidCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plaid",
		Short: "Connect bank accounts via Plaid",
		Long: `Connect your bank accounts using Plaid Link.

This starts a local web server, opens Plaid Link in your browser, and
saves the resulting access token to your config file. Run it again to
connect additional accounts.`,
		RunE: runAuthPlaid,
	}

	cmd.Flags().String("env", "", "Plaid environment (sandbox/production)")

	return cmd
}

type plaidLinkSuccess struct {
	AccessToken     string
	ItemID          string
	InstitutionName string
	InstitutionID   string
}

func runAuthPlaid(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	clientID := viper.GetString("plaid.client_id")
	secret := viper.GetString("plaid.secret")
	environment := viper.GetString("plaid.environment")

	if flagEnv, _ := cmd.Flags().GetString("env"); flagEnv != "" {
		environment = flagEnv
	}
	if clientID == "" {
		clientID = os.Getenv("PLAID_CLIENT_ID")
	}
	if secret == "" {
		secret = os.Getenv("PLAID_SECRET")
	}
	if environment == "" {
		environment = os.Getenv("PLAID_ENV")
		if environment == "" {
			environment = "production"
		}
	}

	if clientID == "" || secret == "" {
		return fmt.Errorf("plaid credentials missing; set plaid.client_id and plaid.secret in the config file or PLAID_CLIENT_ID and PLAID_SECRET in the environment")
	}

	slog.Info("Starting Plaid Link flow", "environment", environment)

	plaidClient, err := plaid.NewClient(plaid.Config{
		ClientID:    clientID,
		Secret:      secret,
		Environment: environment,
	})
	if err != nil {
		return fmt.Errorf("failed to create Plaid client: %w", err)
	}

	linkToken, err := plaidClient.CreateLinkToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to create link token: %w", err)
	}

	successChan := make(chan plaidLinkSuccess, 1)
	errorChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, linkPageHTML, linkToken)
	})
	mux.HandleFunc("/exchange", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PublicToken string `json:"public_token"`
			Metadata    struct {
				Institution struct {
					Name string `json:"name"`
					ID   string `json:"institution_id"`
				} `json:"institution"`
			} `json:"metadata"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Invalid request"})
			return
		}

		accessToken, itemID, err := plaidClient.ExchangePublicToken(ctx, req.PublicToken)
		if err != nil {
			errorChan <- fmt.Errorf("failed to exchange token: %w", err)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "Failed to exchange token"})
			return
		}

		successChan <- plaidLinkSuccess{
			AccessToken:     accessToken,
			ItemID:          itemID,
			InstitutionName: req.Metadata.Institution.Name,
			InstitutionID:   req.Metadata.Institution.ID,
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	})

	server := &http.Server{Addr: ":8080", Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	// Production Plaid Link requires an HTTPS redirect URI, so serve the
	// callback over TLS with a locally generated certificate.
	var browserURL string
	if environment == "production" {
		configDir, err := config.Dir()
		if err != nil {
			return fmt.Errorf("failed to resolve config directory: %w", err)
		}
		certManager := certs.NewFileManager(filepath.Join(configDir, "certs"))
		cert, err := certManager.GetOrCreateCertificate()
		if err != nil {
			return fmt.Errorf("failed to get/create certificate: %w", err)
		}

		server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		browserURL = "https://localhost:8080"

		go func() {
			if err := server.ListenAndServeTLS("", ""); err != http.ErrServerClosed {
				errorChan <- fmt.Errorf("failed to start HTTPS server: %w", err)
			}
		}()

		slog.Info("🏦 Plaid Account Connection (Production)")
		slog.Info("Your browser will warn about the self-signed certificate; proceed to localhost to continue.")
	} else {
		browserURL = "http://localhost:8080"

		go func() {
			if err := server.ListenAndServe(); err != http.ErrServerClosed {
				errorChan <- fmt.Errorf("failed to start server: %w", err)
			}
		}()

		slog.Info("🏦 Plaid Account Connection (Sandbox)")
	}

	slog.Info("Opening your browser to connect bank accounts...")
	slog.Info("If the browser doesn't open, visit:", "url", browserURL)
	openBrowser(browserURL)

	var result plaidLinkSuccess
	select {
	case result = <-successChan:
		slog.Info("Successfully linked account", "institution", result.InstitutionName)
	case err := <-errorChan:
		_ = server.Shutdown(ctx)
		return err
	case <-time.After(10 * time.Minute):
		_ = server.Shutdown(ctx)
		return fmt.Errorf("timeout waiting for account connection")
	}

	_ = server.Shutdown(ctx)

	viper.Set("plaid.access_token", result.AccessToken)
	viper.Set("plaid.item_id", result.ItemID)
	viper.Set("plaid.institution_name", result.InstitutionName)
	if err := saveConfig(); err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}

	slog.Info("🎉 Your bank account is now connected!")
	slog.Info("Run 'tally sync' to sync transactions")

	return nil
}

func authSheetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Authenticate with Google Sheets",
		Long: `Authenticate with Google Sheets using OAuth2.

This opens your browser to authenticate with Google and saves the
refresh token to your config file. Run it once before 'tally export
sheets'.`,
		RunE: runAuthSheets,
	}

	cmd.Flags().String("client-id", "", "OAuth2 Client ID (overrides config)")
	cmd.Flags().String("client-secret", "", "OAuth2 Client Secret (overrides config)")

	return cmd
}

func runAuthSheets(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	clientID := viper.GetString("sheets.client_id")
	clientSecret := viper.GetString("sheets.client_secret")

	if flagID, _ := cmd.Flags().GetString("client-id"); flagID != "" {
		clientID = flagID
	}
	if flagSecret, _ := cmd.Flags().GetString("client-secret"); flagSecret != "" {
		clientSecret = flagSecret
	}
	if clientID == "" {
		clientID = os.Getenv("GOOGLE_SHEETS_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("GOOGLE_SHEETS_CLIENT_SECRET")
	}

	if clientID == "" || clientSecret == "" {
		return fmt.Errorf("OAuth2 credentials not found; set sheets.client_id and sheets.client_secret in config or use --client-id and --client-secret")
	}

	configDir, err := config.Dir()
	if err != nil {
		return fmt.Errorf("failed to resolve config directory: %w", err)
	}
	tokenFile := filepath.Join(configDir, "sheets-token.json")

	slog.Info("Starting Google Sheets authentication", "token_file", tokenFile)

	token, err := sheets.AuthenticateOAuth2Interactive(ctx, sheets.OAuth2Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenFile:    tokenFile,
	})
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	viper.Set("sheets.refresh_token", token.RefreshToken)
	if err := saveConfig(); err != nil {
		slog.Warn("Failed to update config file with refresh token", "error", err)
		slog.Info("Please add this to your config.yaml manually:")
		slog.Info(fmt.Sprintf("sheets:\n  refresh_token: %q", token.RefreshToken))
		return nil
	}

	slog.Info("✅ Authentication successful!")
	slog.Info("Run 'tally export sheets' to export the ledger")

	return nil
}

func saveConfig() error {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configDir, err := config.Dir()
		if err != nil {
			return err
		}
		configFile = filepath.Join(configDir, "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0750); err != nil {
		return err
	}

	return viper.WriteConfigAs(configFile)
}

// openBrowser tries to open the URL in the default browser.
func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start() //nolint:gosec
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start() //nolint:gosec
	case "darwin":
		err = exec.Command("open", url).Start() //nolint:gosec
	}
	if err != nil {
		slog.Debug("Failed to open browser", "error", err)
	}
}

const linkPageHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Connect Your Bank Account - Tally</title>
    <script src="https://cdn.plaid.com/link/v2/stable/link-initialize.js"></script>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background-color: #f5f5f5; }
        .container { text-align: center; background: white; padding: 40px; border-radius: 8px;
                    box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
        h1 { color: #333; margin-bottom: 20px; }
        button { background-color: #2d7ff9; color: white; padding: 12px 24px;
                font-size: 16px; border: none; border-radius: 4px; cursor: pointer; }
        .error { color: #d32f2f; margin-top: 20px; }
        .success { color: #388e3c; margin-top: 20px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>📒 Connect Your Bank Account</h1>
        <p>Click the button below to securely connect your bank account through Plaid.</p>
        <button id="link-button">Connect Bank Account</button>
        <div id="message"></div>
    </div>

    <script>
    const linkHandler = Plaid.create({
        token: '%s',
        onSuccess: (public_token, metadata) => {
            document.getElementById('message').innerHTML =
                '<div class="success">🔄 Processing connection...</div>';
            fetch('/exchange', {
                method: 'POST',
                headers: { 'Content-Type': 'application/json' },
                body: JSON.stringify({ public_token, metadata })
            })
            .then(response => response.json())
            .then(data => {
                if (data.success) {
                    document.getElementById('message').innerHTML =
                        '<div class="success">✅ Account connected. You can close this window.</div>';
                } else {
                    document.getElementById('message').innerHTML =
                        '<div class="error">❌ ' + (data.error || 'Connection failed') + '</div>';
                }
            })
            .catch(error => {
                document.getElementById('message').innerHTML =
                    '<div class="error">❌ Network error: ' + error + '</div>';
            });
        },
        onExit: (err, metadata) => {
            if (err != null) {
                document.getElementById('message').innerHTML =
                    '<div class="error">Connection canceled or failed.</div>';
            }
        }
    });

    document.getElementById('link-button').onclick = () => {
        linkHandler.open();
    };
    </script>
</body>
</html>`
