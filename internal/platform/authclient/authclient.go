// Package authclient wraps the out-of-scope upstream auth proxy (IAM/OAuth
// token exchange, spec.md §1) behind a circuit breaker so that a flapping
// dependency cannot stall the batch pipeline or the CRUD surface.
package authclient

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// TokenExchanger is the narrow interface the rest of the platform depends on.
type TokenExchanger interface {
	ExchangeToken(ctx context.Context, clientID string) (string, error)
}

// HTTPClient is the subset of *http.Client used, so tests can substitute a
// fake transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client exchanges client credentials for a bearer token against the
// upstream auth proxy, wrapped in a circuit breaker.
type Client struct {
	tokenURL string
	http     HTTPClient
	breaker  *gobreaker.CircuitBreaker
}

// New builds a Client whose breaker opens after 5 consecutive failures and
// stays open for timeout before allowing a single trial request through.
func New(tokenURL string, httpClient HTTPClient, timeout time.Duration) *Client {
	settings := gobreaker.Settings{
		Name:    "upstream-auth-proxy",
		Timeout: timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		tokenURL: tokenURL,
		http:     httpClient,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

func (c *Client) ExchangeToken(ctx context.Context, clientID string) (string, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Client-Id", clientID)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		token := resp.Header.Get("X-Access-Token")
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// StatusError is returned when the upstream proxy answers with a non-200
// status code.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return http.StatusText(e.StatusCode)
}
