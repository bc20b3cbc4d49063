package directory

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tailscale-portfolio/rest-user-federation/internal/config"
)

// NewFromConfig builds a Client from environment settings. Client credentials take precedence over
// a static token.
func NewFromConfig(ctx context.Context, remote config.Remote, logger *slog.Logger) (*Client, error) {
	opts := []Option{
		WithLogger(logger),
		WithHTTPClient(&http.Client{Timeout: remote.Timeout}),
		WithRetry(remote.Retries, 200*time.Millisecond, 2*time.Second),
	}
	switch {
	case remote.ClientID != "":
		cc := &clientcredentials.Config{
			ClientID:     remote.ClientID,
			ClientSecret: remote.ClientSecret,
			TokenURL:     remote.TokenURL,
			Scopes:       remote.Scopes,
		}
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: remote.Timeout})
		opts = append(opts, WithTokenSource(cc.TokenSource(tokenCtx)))
	case remote.Token != "":
		opts = append(opts, WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: remote.Token})))
	}
	return New(remote.URL, opts...)
}
