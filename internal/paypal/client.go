package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrAuth  = errors.New("paypal token exchange failed")
	ErrFetch = errors.New("paypal order fetch failed")
	ErrIPN   = errors.New("paypal notification validation failed")
)

// tokenSkew is subtracted from expires_in so a cached token is never used
// right at its expiry.
const tokenSkew = 60 * time.Second

type Config struct {
	ClientID     string
	ClientSecret string
	APIURL       string
	IPNURL       string
	Timeout      time.Duration
}

type Client struct {
	cfg   Config
	http  *http.Client
	cache TokenCache
}

// NewClient builds a client. cache may be nil, in which case every order
// lookup performs its own token exchange.
func NewClient(cfg Config, cache TokenCache) *Client {
	if cache == nil {
		cache = noCache{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:   cfg,
		http:  &http.Client{Timeout: timeout},
		cache: cache,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// AccessToken returns a bearer token from the client-credentials grant.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := c.cache.Get(ctx, c.cfg.ClientID); ok {
		return tok, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrAuth, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrAuth, resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrAuth, err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access_token", ErrAuth)
	}

	if ttl := time.Duration(tr.ExpiresIn)*time.Second - tokenSkew; ttl > 0 {
		c.cache.Put(ctx, c.cfg.ClientID, tr.AccessToken, ttl)
	}
	return tr.AccessToken, nil
}

// GetOrder fetches the authoritative order resource.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.cfg.APIURL + "/v2/checkout/orders/" + url.PathEscape(orderID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode == http.StatusUnauthorized {
			c.cache.Invalidate(ctx, c.cfg.ClientID)
		}
		return nil, fmt.Errorf("%w: status %d from %s: %s", ErrFetch, resp.StatusCode, endpoint, string(body))
	}

	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrFetch, err)
	}
	return &order, nil
}

// ValidateNotification posts the notification back verbatim, prefixed with
// the validate command, and returns the provider's answer as text.
func (c *Client) ValidateNotification(ctx context.Context, raw []byte) (string, error) {
	payload := make([]byte, 0, len(raw)+len(validateCmd)+1)
	payload = append(payload, validateCmd...)
	if len(raw) > 0 {
		payload = append(payload, '&')
		payload = append(payload, raw...)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.IPNURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIPN, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "paybridge-ipn-listener")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIPN, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrIPN, err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.Warn("ipn validation returned non-200", "status", resp.StatusCode)
	}
	return string(body), nil
}

const validateCmd = "cmd=_notify-validate"
