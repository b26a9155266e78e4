// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/emblemhq/emblem/lib/credential"
	"github.com/emblemhq/emblem/lib/httpx"
	"github.com/emblemhq/emblem/lib/secret"
)

var issueBase = time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func issueTestCredential(t *testing.T, name string, at time.Time) *credential.Credential {
	t.Helper()
	cred, err := credential.New(name, "license", map[string]any{
		"tier":  "gold",
		"seats": 5,
	}, "issuer@testhost/100", at)
	if err != nil {
		t.Fatalf("credential.New: %v", err)
	}
	return cred
}

func newTestClient(t *testing.T, peerURL string, token *secret.Buffer) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{PeerURL: peerURL, Token: token})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

// listEnvelope is the wire shape of a catch-up response, used by tests
// that write the body by hand instead of through httpx.WriteList.
type listEnvelope struct {
	Success bool                    `json:"success"`
	Count   int                     `json:"count"`
	Data    []credential.Credential `json:"data"`
}

func TestNewClientRequiresPeerURL(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("NewClient with empty PeerURL succeeded, want error")
	}
}

func TestPushRecordDelivers(t *testing.T) {
	cred := issueTestCredential(t, "push-delivers", issueBase)
	token := newTestSecret(t, "push-token")

	var (
		gotMethod      string
		gotPath        string
		gotContentType string
		gotAuth        string
		gotBody        []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotMethod = request.Method
		gotPath = request.URL.Path
		gotContentType = request.Header.Get("Content-Type")
		gotAuth = request.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(request.Body)
		httpx.WriteData(writer, http.StatusOK, map[string]string{"id": cred.ID})
	}))
	defer server.Close()

	// Trailing slash on the peer URL must not double up in paths.
	client := newTestClient(t, server.URL+"/", token)
	if err := client.PushRecord(context.Background(), cred); err != nil {
		t.Fatalf("PushRecord: %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPath != "/internal/sync" {
		t.Errorf("path = %q, want /internal/sync", gotPath)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q, want application/json", gotContentType)
	}
	if want := "Bearer " + token.String(); gotAuth != want {
		t.Errorf("authorization = %q, want %q", gotAuth, want)
	}

	var received credential.Credential
	if err := json.Unmarshal(gotBody, &received); err != nil {
		t.Fatalf("decoding pushed body: %v", err)
	}
	if !reflect.DeepEqual(received, *cred) {
		t.Errorf("pushed credential = %+v, want %+v", received, *cred)
	}
}

func TestPushRecordWithoutTokenSendsNoAuth(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotAuth = request.Header.Get("Authorization")
		httpx.WriteData(writer, http.StatusOK, map[string]string{"status": "accepted"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	if err := client.PushRecord(context.Background(), issueTestCredential(t, "no-token", issueBase)); err != nil {
		t.Fatalf("PushRecord: %v", err)
	}
	if gotAuth != "" {
		t.Errorf("authorization header = %q, want empty", gotAuth)
	}
}

func TestPushRecordSurfacesEnvelopeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		httpx.WriteError(writer, httpx.KindHashMismatch, "digest does not match record")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	err := client.PushRecord(context.Background(), issueTestCredential(t, "rejected", issueBase))

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("PushRecord error = %v, want *SyncError", err)
	}
	if syncErr.Kind != httpx.KindHashMismatch {
		t.Errorf("kind = %q, want %q", syncErr.Kind, httpx.KindHashMismatch)
	}
	if syncErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", syncErr.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestPushRecordSurfacesRawErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
		io.WriteString(writer, "proxy meltdown")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	err := client.PushRecord(context.Background(), issueTestCredential(t, "meltdown", issueBase))

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("PushRecord error = %v, want *SyncError", err)
	}
	if syncErr.Kind != httpx.KindInvalidResponse {
		t.Errorf("kind = %q, want %q", syncErr.Kind, httpx.KindInvalidResponse)
	}
	if syncErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", syncErr.StatusCode, http.StatusInternalServerError)
	}
}

func TestFetchSinceDecodesRecords(t *testing.T) {
	records := []credential.Credential{
		*issueTestCredential(t, "fetch-one", issueBase),
		*issueTestCredential(t, "fetch-two", issueBase.Add(time.Second)),
	}
	cursor := credential.FormatIssuedAt(issueBase.Add(-time.Hour))

	var gotSince, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		gotSince = request.URL.Query().Get("since")
		gotAccept = request.Header.Get("Accept-Encoding")
		httpx.WriteList(writer, http.StatusOK, len(records), records)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	got, err := client.FetchSince(context.Background(), cursor)
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Errorf("records = %+v, want %+v", got, records)
	}
	if gotSince != cursor {
		t.Errorf("since = %q, want %q", gotSince, cursor)
	}
	if gotAccept != httpx.AcceptEncodings {
		t.Errorf("accept-encoding = %q, want %q", gotAccept, httpx.AcceptEncodings)
	}
}

func TestFetchSinceOmitsEmptyCursor(t *testing.T) {
	var sawSince bool
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		sawSince = request.URL.Query().Has("since")
		httpx.WriteList(writer, http.StatusOK, 0, []credential.Credential{})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	got, err := client.FetchSince(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("records = %+v, want none", got)
	}
	if sawSince {
		t.Error("empty cursor was sent as a since parameter")
	}
}

func TestFetchSinceDecompressesResponse(t *testing.T) {
	records := []credential.Credential{
		*issueTestCredential(t, "compressed", issueBase),
	}
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		encoding := httpx.NegotiateEncoding(request.Header.Get("Accept-Encoding"))
		if encoding != httpx.EncodingZstd {
			t.Errorf("negotiated %q, want %q", encoding, httpx.EncodingZstd)
		}
		payload, err := json.Marshal(listEnvelope{Success: true, Count: len(records), Data: records})
		if err != nil {
			t.Errorf("encoding feed: %v", err)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		writer.Header().Set("Content-Encoding", encoding)
		encoder, err := httpx.NewEncoder(writer, encoding)
		if err != nil {
			t.Errorf("building encoder: %v", err)
			return
		}
		encoder.Write(payload)
		encoder.Close()
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	got, err := client.FetchSince(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Errorf("records = %+v, want %+v", got, records)
	}
}

func TestFetchSinceRejectsProtocolViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"failure envelope with success status", `{"success":false,"error":{"kind":"internal","message":"broken"}}`},
		{"null data", `{"success":true,"count":0,"data":null}`},
		{"missing data", `{"success":true,"count":1}`},
		{"non-array data", `{"success":true,"count":1,"data":{"id":"abc"}}`},
		{"missing count", `{"success":true,"data":[]}`},
		{"count mismatch", `{"success":true,"count":3,"data":[]}`},
		{"not json", `catch-up feed is down`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				writer.Header().Set("Content-Type", "application/json")
				io.WriteString(writer, test.body)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, nil)
			_, err := client.FetchSince(context.Background(), "")

			var syncErr *SyncError
			if !errors.As(err, &syncErr) {
				t.Fatalf("FetchSince error = %v, want *SyncError", err)
			}
			if syncErr.Kind != httpx.KindInvalidResponse {
				t.Errorf("kind = %q, want %q", syncErr.Kind, httpx.KindInvalidResponse)
			}
		})
	}
}

func TestFetchSinceSurfacesUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		httpx.WriteError(writer, httpx.KindUnauthorized, "missing or invalid sync token")
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)
	_, err := client.FetchSince(context.Background(), "")

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatalf("FetchSince error = %v, want *SyncError", err)
	}
	if syncErr.Kind != httpx.KindUnauthorized {
		t.Errorf("kind = %q, want %q", syncErr.Kind, httpx.KindUnauthorized)
	}
	if syncErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", syncErr.StatusCode, http.StatusUnauthorized)
	}
}
