package paypal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenCacheKey = "paypal:access_token"

// Tokens expire in roughly nine hours; cache for less so a token is never
// served from cache after the provider has expired it.
const (
	tokenCacheBuffer  = 5 * time.Minute
	tokenCacheDefault = 8 * time.Hour
)

// TokenCache is the minimal redis client surface used by AuthClient.
type TokenCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// AuthClient manages OAuth2 client-credentials tokens for the provider API,
// cached in redis with a TTL shorter than the token's real expiry.
type AuthClient struct {
	httpClient   *http.Client
	cache        TokenCache
	clientID     string
	clientSecret string
	baseURL      string
	logf         func(format string, args ...any)
}

// NewAuthClient constructs an AuthClient. httpClient may be nil.
func NewAuthClient(httpClient *http.Client, cache TokenCache, clientID, clientSecret, baseURL string, logf func(format string, args ...any)) *AuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logf == nil {
		logf = log.Printf
	}
	return &AuthClient{
		httpClient:   httpClient,
		cache:        cache,
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      strings.TrimRight(baseURL, "/"),
		logf:         logf,
	}
}

// BaseURL returns the configured provider API base.
func (c *AuthClient) BaseURL() string { return c.baseURL }

// AccessToken returns a valid bearer token, from cache when possible.
func (c *AuthClient) AccessToken(ctx context.Context) (string, error) {
	cached, err := c.cache.Get(ctx, tokenCacheKey).Result()
	if err == nil && cached != "" {
		return cached, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logf("paypal: token cache read failed, requesting fresh token: %v", err)
	}
	return c.requestToken(ctx)
}

// RefreshAccessToken drops the cached token and fetches a new one.
func (c *AuthClient) RefreshAccessToken(ctx context.Context) (string, error) {
	if err := c.cache.Del(ctx, tokenCacheKey).Err(); err != nil {
		c.logf("paypal: clear cached token: %v", err)
	}
	return c.requestToken(ctx)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *AuthClient) requestToken(ctx context.Context) (string, error) {
	body := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(body.Encode()))
	if err != nil {
		return "", err
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(c.clientID + ":" + c.clientSecret))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+credentials)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("paypal: token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("paypal: token request returned %d: %s", resp.StatusCode, data)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("paypal: decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("paypal: token response missing access_token")
	}

	ttl := tokenCacheDefault
	if token.ExpiresIn > 0 {
		ttl = time.Duration(token.ExpiresIn)*time.Second - tokenCacheBuffer
		if ttl <= 0 {
			ttl = time.Duration(token.ExpiresIn) * time.Second
		}
	}
	if err := c.cache.Set(ctx, tokenCacheKey, token.AccessToken, ttl).Err(); err != nil {
		c.logf("paypal: cache access token: %v", err)
	}
	return token.AccessToken, nil
}
