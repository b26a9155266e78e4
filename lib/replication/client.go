// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/emblemhq/emblem/lib/credential"
	"github.com/emblemhq/emblem/lib/httpx"
	"github.com/emblemhq/emblem/lib/secret"
	"github.com/emblemhq/emblem/lib/version"
)

// SyncError is a failure reported by the peer service, or a protocol
// violation detected locally in the peer's response. Kind carries the
// wire classification; StatusCode is the HTTP status of the response
// that produced the error, when one applies (zero for violations
// detected in an otherwise successful response payload).
type SyncError struct {
	Kind       httpx.ErrorKind
	StatusCode int
	Message    string
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("replication: %s (%d): %s", e.Kind, e.StatusCode, e.Message)
}

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// PeerURL is the base URL of the peer service
	// (e.g., "http://verifier.internal:8441").
	PeerURL string
	// Token is the direction-scoped bearer token from DeriveToken.
	// Nil when no sync secret is configured; requests then carry no
	// Authorization header.
	Token *secret.Buffer
	// HTTPClient is used for all requests. If nil, http.DefaultClient
	// is used.
	HTTPClient *http.Client
}

// Client talks to the peer service's internal sync endpoints. It is
// safe for concurrent use.
type Client struct {
	baseURL    string
	token      *secret.Buffer
	httpClient *http.Client
}

// NewClient creates a sync client for the given peer.
func NewClient(config ClientConfig) (*Client, error) {
	if config.PeerURL == "" {
		return nil, fmt.Errorf("replication: PeerURL is required")
	}

	// Validate the URL structure. The string form (trailing slash
	// stripped) is stored and request URLs are built by direct
	// concatenation against fixed paths.
	if _, err := url.Parse(config.PeerURL); err != nil {
		return nil, fmt.Errorf("replication: invalid PeerURL %q: %w", config.PeerURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(config.PeerURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
	}, nil
}

// PushRecord delivers one credential to the peer's sync receiver.
// A nil return means the peer accepted the record; any non-2xx status
// or transport failure is an error.
func (c *Client) PushRecord(ctx context.Context, cred *credential.Credential) error {
	encoded, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("replication: encoding credential %s: %w", cred.ID, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/sync", bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("replication: creating push request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	c.prepare(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("replication: push to %s failed: %w", c.baseURL, err)
	}
	defer response.Body.Close()

	body, err := httpx.ReadResponse(response.Body)
	if err != nil {
		return fmt.Errorf("replication: reading push response: %w", err)
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}
	return responseError(response.StatusCode, body)
}

// FetchSince returns every credential the peer issued strictly after
// the since cursor, in issuedAt order. An empty cursor fetches the
// peer's full history. The response body is transferred compressed
// when the peer supports it.
func (c *Client) FetchSince(ctx context.Context, since string) ([]credential.Credential, error) {
	requestURL := c.baseURL + "/internal/credentials"
	if since != "" {
		requestURL += "?since=" + url.QueryEscape(since)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("replication: creating fetch request: %w", err)
	}
	request.Header.Set("Accept-Encoding", httpx.AcceptEncodings)
	c.prepare(request)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("replication: fetch from %s failed: %w", c.baseURL, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, readErr := httpx.ReadResponse(response.Body)
		if readErr != nil {
			return nil, fmt.Errorf("replication: reading fetch error response: %w", readErr)
		}
		return nil, responseError(response.StatusCode, body)
	}

	decoder, err := httpx.NewDecoder(response.Body, response.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, protocolViolation(response.StatusCode, "unsupported content encoding %q", response.Header.Get("Content-Encoding"))
	}
	defer decoder.Close()

	var envelope httpx.Envelope
	if err := httpx.DecodeResponse(decoder, &envelope); err != nil {
		return nil, protocolViolation(response.StatusCode, "undecodable response body: %v", err)
	}

	// A catch-up response must be a success envelope with a count and
	// a data array. Anything else is a protocol violation, never an
	// empty result.
	if !envelope.Success {
		return nil, protocolViolation(response.StatusCode, "peer reported failure inside a success status")
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil, protocolViolation(response.StatusCode, "peer response has no data array")
	}
	var records []credential.Credential
	if err := json.Unmarshal(envelope.Data, &records); err != nil {
		return nil, protocolViolation(response.StatusCode, "peer data is not a credential list: %v", err)
	}
	if envelope.Count == nil {
		return nil, protocolViolation(response.StatusCode, "peer response has no count")
	}
	if *envelope.Count != len(records) {
		return nil, protocolViolation(response.StatusCode, "peer count %d does not match %d records", *envelope.Count, len(records))
	}
	return records, nil
}

// prepare attaches the client identity headers and, when a token is
// configured, the bearer token. The token is converted to string at
// the header boundary; the heap copy is short-lived.
func (c *Client) prepare(request *http.Request) {
	request.Header.Set("User-Agent", version.UserAgent())
	if c.token != nil {
		request.Header.Set("Authorization", "Bearer "+c.token.String())
	}
}

// responseError converts a non-2xx response into a *SyncError. A body
// that is not a failure envelope is itself a protocol violation; the
// raw body is preserved in the message for diagnostics.
func responseError(statusCode int, body []byte) *SyncError {
	var envelope httpx.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		return &SyncError{
			Kind:       httpx.KindInvalidResponse,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unexpected %d response: %s", statusCode, string(body)),
		}
	}
	return &SyncError{
		Kind:       envelope.Error.Kind,
		StatusCode: statusCode,
		Message:    envelope.Error.Message,
	}
}

// protocolViolation builds the *SyncError for a response that breaks
// the sync protocol's shape contract.
func protocolViolation(statusCode int, format string, args ...any) *SyncError {
	return &SyncError{
		Kind:       httpx.KindInvalidResponse,
		StatusCode: statusCode,
		Message:    fmt.Sprintf(format, args...),
	}
}
