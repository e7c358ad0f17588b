// Package auth provides Google OAuth2 authentication for the Gmail API.
//
// The OAuth client comes from a credentials.json downloaded from the
// Google Cloud console; the user token is kept in token.json next to it.
package auth

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Scopes needed to read, label, archive, trash and draft.
var Scopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailComposeScope,
}

// TokenPath returns the token file used for credentialsPath.
func TokenPath(credentialsPath string) string {
	return filepath.Join(filepath.Dir(credentialsPath), "token.json")
}

// LoadGmailService returns an authenticated Gmail API service.
func LoadGmailService(ctx context.Context, credentialsPath string, logger *log.Logger) (*gmail.Service, error) {
	client, err := getClient(ctx, credentialsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("get oauth client: %w", err)
	}
	return gmail.NewService(ctx, option.WithHTTPClient(client))
}

// getClient loads the OAuth config and token, refreshing and saving the
// token when it has expired.
func getClient(ctx context.Context, credentialsPath string, logger *log.Logger) (*http.Client, error) {
	config, err := loadOAuthConfig(credentialsPath)
	if err != nil {
		return nil, err
	}

	tokenPath := TokenPath(credentialsPath)
	token, err := loadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("load token from %s (run 'mt setup'): %w", tokenPath, err)
	}

	ts := config.TokenSource(ctx, token)
	fresh, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken != token.AccessToken {
		if err := saveToken(tokenPath, fresh); err != nil {
			logger.Warn("could not save refreshed token", "path", tokenPath, "error", err)
		}
	}

	return oauth2.NewClient(ctx, ts), nil
}

// LoopbackRedirect is used when credentials.json names no redirect URI.
// Google no longer accepts the out-of-band redirect for desktop clients.
const LoopbackRedirect = "http://localhost"

// Authorize runs the console OAuth flow: it prints the consent URL to out,
// reads the authorization code (or the whole redirected URL) from in and
// stores the resulting token.
func Authorize(ctx context.Context, credentialsPath string, in io.Reader, out io.Writer) error {
	config, err := loadOAuthConfig(credentialsPath)
	if err != nil {
		return err
	}
	if config.RedirectURL == "" || strings.HasPrefix(config.RedirectURL, "urn:ietf:wg:oauth:2.0:oob") {
		config.RedirectURL = LoopbackRedirect
	}

	consentURL := config.AuthCodeURL("mailtriage", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(out, "Open this URL in a browser and authorize access:\n\n  %s\n\n"+
		"The browser then lands on %s, which will not load.\n"+
		"Paste that address (or just its code parameter): ", consentURL, config.RedirectURL)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("read authorization code: %w", err)
	}
	code, err := authCode(line)
	if err != nil {
		return err
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}
	return saveToken(TokenPath(credentialsPath), token)
}

// authCode accepts a bare authorization code or the redirected URL that
// carries it in its query string.
func authCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("no authorization code entered")
	}
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}
	q := u.Query()
	if e := q.Get("error"); e != "" {
		return "", fmt.Errorf("authorization denied: %s", e)
	}
	code := q.Get("code")
	if code == "" {
		return "", fmt.Errorf("redirect url has no code parameter")
	}
	return code, nil
}

// loadOAuthConfig reads credentials.json and returns an OAuth2 config.
func loadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials from %s: %w", credentialsPath, err)
	}

	config, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return config, nil
}

func loadToken(tokenPath string) (*oauth2.Token, error) {
	data, err := os.ReadFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	return &token, nil
}

func saveToken(tokenPath string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(tokenPath), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}
	if err := os.WriteFile(tokenPath, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}
