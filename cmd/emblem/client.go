// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emblemhq/emblem/lib/credential"
	"github.com/emblemhq/emblem/lib/httpx"
	"github.com/emblemhq/emblem/lib/version"
)

const (
	defaultIssuerURL   = "http://localhost:8440"
	defaultVerifierURL = "http://localhost:8441"

	// requestTimeout bounds every service call a command makes.
	requestTimeout = 30 * time.Second
)

// apiError is a failure envelope surfaced as a command error. The kind
// is preserved so callers can branch on it; the message is what the
// operator sees.
type apiError struct {
	Kind    httpx.ErrorKind
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// apiClient talks to the public endpoints of an issuer or verifier.
// The internal sync endpoints are covered by lib/replication; this
// client covers what an operator reaches from outside: issuance,
// lookup, listing, and verification.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) (*apiClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("service URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid service URL %q: %w", baseURL, err)
	}
	return &apiClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}, nil
}

// issue requests a new credential from the issuer.
func (c *apiClient) issue(ctx context.Context, name, credentialType string, details map[string]any) (*credential.Credential, error) {
	requestBody := struct {
		Name           string         `json:"name"`
		CredentialType string         `json:"credentialType"`
		Details        map[string]any `json:"details"`
	}{Name: name, CredentialType: credentialType, Details: details}

	var cred credential.Credential
	if err := c.call(ctx, http.MethodPost, "/v1/credentials", requestBody, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// get fetches one credential record by ID.
func (c *apiClient) get(ctx context.Context, id string) (*credential.Credential, error) {
	var cred credential.Credential
	if err := c.call(ctx, http.MethodGet, "/v1/credentials/"+url.PathEscape(id), nil, &cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// list fetches credentials issued after the since cursor, in issuance
// order. An empty since starts from the beginning; limit <= 0 uses the
// service default.
func (c *apiClient) list(ctx context.Context, since string, limit int) ([]credential.Credential, error) {
	query := url.Values{}
	if since != "" {
		query.Set("since", since)
	}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	path := "/v1/credentials"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var records []credential.Credential
	if err := c.call(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// verifyOutcome is the verifier's judgment on a presented record.
type verifyOutcome struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// verify submits a credential record to the verifier.
func (c *apiClient) verify(ctx context.Context, cred *credential.Credential) (*verifyOutcome, error) {
	requestBody := struct {
		Credential *credential.Credential `json:"credential"`
	}{Credential: cred}

	var outcome verifyOutcome
	if err := c.call(ctx, http.MethodPost, "/v1/verify", requestBody, &outcome); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// call performs one request and decodes the envelope. A failure
// envelope becomes an *apiError; a body that is not an envelope at all
// is reported with its HTTP status for diagnostics.
func (c *apiClient) call(ctx context.Context, method, path string, requestBody, result any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	request.Header.Set("User-Agent", version.UserAgent())
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.baseURL, err)
	}
	defer response.Body.Close()

	var envelope httpx.Envelope
	if err := httpx.DecodeResponse(response.Body, &envelope); err != nil {
		return fmt.Errorf("undecodable response from %s (status %d): %v", c.baseURL, response.StatusCode, err)
	}

	if !envelope.Success {
		if envelope.Error == nil {
			return fmt.Errorf("service reported failure with no detail (status %d)", response.StatusCode)
		}
		return &apiError{Kind: envelope.Error.Kind, Message: envelope.Error.Message}
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("decoding response data: %w", err)
		}
	}
	return nil
}
