package facilitator

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	cdpjwt "github.com/coinbase/cdp-sdk/go/auth"
)

const (
	// CoinbaseBaseURL is the hosted Coinbase facilitator.
	CoinbaseBaseURL = "https://api.cdp.coinbase.com"
	// CoinbaseRoute is the x402 route on the Coinbase facilitator.
	CoinbaseRoute = "/platform/v2/x402"
)

// CoinbaseAuthProvider signs facilitator requests with a CDP JWT, as the
// hosted Coinbase facilitator requires.
type CoinbaseAuthProvider struct {
	apiKeyID     string
	apiKeySecret string
	requestHost  string
	requestPath  string
}

// NewCoinbaseAuthProvider builds an auth provider for the Coinbase
// facilitator reachable at facilitatorURL.
func NewCoinbaseAuthProvider(apiKeyID, apiKeySecret, facilitatorURL string) *CoinbaseAuthProvider {
	host := strings.TrimPrefix(facilitatorURL, "https://")
	path := CoinbaseRoute
	if parsed, err := url.Parse(facilitatorURL); err == nil && parsed.Host != "" {
		host = parsed.Host
		if parsed.Path != "" {
			path = parsed.Path
		}
	}
	return &CoinbaseAuthProvider{
		apiKeyID:     apiKeyID,
		apiKeySecret: apiKeySecret,
		requestHost:  host,
		requestPath:  path,
	}
}

// AuthHeaders implements AuthProvider. The JWT binds to the exact method,
// host and path of the call being made.
func (p *CoinbaseAuthProvider) AuthHeaders(ctx context.Context, route string) (map[string]string, error) {
	if p.apiKeyID == "" || p.apiKeySecret == "" {
		return nil, nil
	}
	jwt, err := cdpjwt.GenerateJWT(cdpjwt.JwtOptions{
		KeyID:         p.apiKeyID,
		KeySecret:     p.apiKeySecret,
		RequestMethod: "POST",
		RequestHost:   p.requestHost,
		RequestPath:   p.requestPath + route,
	})
	if err != nil {
		return nil, fmt.Errorf("generate JWT: %w", err)
	}
	return map[string]string{
		"Authorization": "Bearer " + jwt,
	}, nil
}
