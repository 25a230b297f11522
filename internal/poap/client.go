// Package poap talks to the POAP API: service authentication and
// claim submission for a single event.
package poap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultAPIURL  = "https://api.poap.tech"
	DefaultAuthURL = "https://api.poap.tech/oauth/token"

	claimPath = "/actions/claim-qr"

	// HeaderAPIKey carries the static POAP API key.
	HeaderAPIKey = "X-API-Key"

	defaultRejectReason = "Failed to mint POAP"
	maxResponseBytes    = 1 << 20
)

// ErrAuthFailure is returned when no access token could be obtained.
var ErrAuthFailure = errors.New("poap authentication failed")

// RejectedError is returned when the claim endpoint answers with a
// non-success status.
type RejectedError struct {
	StatusCode int
	Reason     string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("poap rejected claim (status %d): %s", e.StatusCode, e.Reason)
}

// Config configures a Client.
type Config struct {
	APIURL       string
	AuthURL      string
	ClientID     string
	ClientSecret string
	Audience     string
	APIKey       string

	// HTTPClient defaults to NewHTTPClient().
	HTTPClient *http.Client
}

// ClaimRequest identifies the destination of a claim. Exactly one of
// Address and Email is set.
type ClaimRequest struct {
	EventID    string
	SecretCode string
	Address    string
	Email      string
}

// ClaimResult is the upstream acknowledgement of a claim.
type ClaimResult struct {
	TokenID string
}

// Client submits claims to the POAP API.
type Client struct {
	apiURL     string
	apiKey     string
	creds      *clientcredentials.Config
	httpClient *http.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("poap client credentials are required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("poap api key is required")
	}
	if _, err := url.ParseRequestURI(cfg.APIURL); err != nil {
		return nil, fmt.Errorf("invalid poap api url: %w", err)
	}
	if _, err := url.ParseRequestURI(cfg.AuthURL); err != nil {
		return nil, fmt.Errorf("invalid poap auth url: %w", err)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient()
	}

	// The token endpoint is a standard OAuth2 server, so the grant is sent
	// form encoded with the credentials in the body.
	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.AuthURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if cfg.Audience != "" {
		creds.EndpointParams = url.Values{"audience": {cfg.Audience}}
	}

	return &Client{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		apiKey:     cfg.APIKey,
		creds:      creds,
		httpClient: cfg.HTTPClient,
	}, nil
}

// Authenticate exchanges the client credentials for an access token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.creds.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthFailure)
	}
	return tok.AccessToken, nil
}

type claimBody struct {
	EventID    json.RawMessage `json:"event_id"`
	SecretCode string          `json:"secret_code"`
	Address    string          `json:"address,omitempty"`
	Email      string          `json:"email,omitempty"`
}

type claimResponse struct {
	QueueUID any `json:"queue_uid"`
	TokenID  any `json:"token_id"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Claim submits one claim using an access token from Authenticate.
func (c *Client) Claim(ctx context.Context, token string, req ClaimRequest) (ClaimResult, error) {
	if (req.Address == "") == (req.Email == "") {
		return ClaimResult{}, fmt.Errorf("claim needs exactly one of address or email")
	}

	body, err := json.Marshal(claimBody{
		EventID:    eventIDJSON(req.EventID),
		SecretCode: req.SecretCode,
		Address:    req.Address,
		Email:      req.Email,
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("marshal claim: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+claimPath, bytes.NewReader(body))
	if err != nil {
		return ClaimResult{}, fmt.Errorf("build claim request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set(HeaderAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("send claim: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return ClaimResult{}, fmt.Errorf("read claim response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := defaultRejectReason
		var errResp errorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Message != "" {
			reason = errResp.Message
		}
		return ClaimResult{}, &RejectedError{StatusCode: resp.StatusCode, Reason: reason}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out claimResponse
	if err := dec.Decode(&out); err != nil {
		return ClaimResult{}, fmt.Errorf("decode claim response: %w", err)
	}

	tokenID := identifier(out.QueueUID)
	if tokenID == "" {
		tokenID = identifier(out.TokenID)
	}
	return ClaimResult{TokenID: tokenID}, nil
}

// eventIDJSON encodes numeric event ids as JSON numbers and anything
// else as a string.
func eventIDJSON(id string) json.RawMessage {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return json.RawMessage(strconv.FormatUint(n, 10))
	}
	quoted, _ := json.Marshal(id)
	return quoted
}

func identifier(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
