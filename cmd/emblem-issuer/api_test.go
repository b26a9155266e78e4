// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/emblemhq/emblem/lib/clock"
	"github.com/emblemhq/emblem/lib/credential"
	"github.com/emblemhq/emblem/lib/httpx"
	"github.com/emblemhq/emblem/lib/replication"
	"github.com/emblemhq/emblem/lib/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAPI(t *testing.T) (*issuerAPI, *clock.FakeClock) {
	t.Helper()
	db, err := store.Open(store.Config{
		Path:   filepath.Join(t.TempDir(), "issuer.db"),
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.Fake(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC))
	return &issuerAPI{
		store:    db,
		clock:    clk,
		issuedBy: "issuer@testhost/4242",
		logger:   discardLogger(),
	}, clk
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) httpx.Envelope {
	t.Helper()
	var envelope httpx.Envelope
	if err := json.Unmarshal(recorder.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding envelope from %q: %v", recorder.Body.String(), err)
	}
	return envelope
}

func decodeCredential(t *testing.T, data json.RawMessage) credential.Credential {
	t.Helper()
	var cred credential.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		t.Fatalf("decoding credential: %v", err)
	}
	return cred
}

func issueCredential(t *testing.T, handler http.Handler, body string) credential.Credential {
	t.Helper()
	recorder := doRequest(t, handler, http.MethodPost, "/v1/credentials", body)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("issue status = %d, want %d (body %s)", recorder.Code, http.StatusCreated, recorder.Body)
	}
	return decodeCredential(t, decodeEnvelope(t, recorder).Data)
}

func TestIssueCreatesCredential(t *testing.T) {
	api, _ := newTestAPI(t)
	mux := api.routes("")

	recorder := doRequest(t, mux, http.MethodPost, "/v1/credentials",
		`{"name": "deploy-bot", "credentialType": "service-account", "details": {"env": "production", "quota": 25}}`)
	if got, want := recorder.Code, http.StatusCreated; got != want {
		t.Fatalf("status = %d, want %d (body %s)", got, want, recorder.Body)
	}

	envelope := decodeEnvelope(t, recorder)
	if !envelope.Success {
		t.Fatal("Success = false, want true")
	}
	cred := decodeCredential(t, envelope.Data)
	if cred.ID == "" {
		t.Error("issued credential has empty id")
	}
	if got, want := cred.IssuedBy, "issuer@testhost/4242"; got != want {
		t.Errorf("IssuedBy = %q, want %q", got, want)
	}
	if err := cred.VerifyHash(); err != nil {
		t.Errorf("issued credential fails verification: %v", err)
	}

	stored, err := api.store.FindByID(context.Background(), cred.ID)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", cred.ID, err)
	}
	if stored.Hash != cred.Hash {
		t.Errorf("stored hash = %q, want %q", stored.Hash, cred.Hash)
	}
}

func TestIssueConflictOnIdenticalContent(t *testing.T) {
	api, clk := newTestAPI(t)
	mux := api.routes("")
	body := `{"name": "deploy-bot", "credentialType": "service-account", "details": {"env": "staging"}}`

	first := issueCredential(t, mux, body)

	// A later wall-clock time must not dodge the conflict: the id is
	// content-derived, not time-derived.
	clk.Advance(time.Hour)
	recorder := doRequest(t, mux, http.MethodPost, "/v1/credentials", body)
	if got, want := recorder.Code, http.StatusConflict; got != want {
		t.Fatalf("second issue status = %d, want %d (body %s)", got, want, recorder.Body)
	}
	envelope := decodeEnvelope(t, recorder)
	if envelope.Success {
		t.Error("Success = true, want false")
	}
	if envelope.Error == nil {
		t.Fatal("Error = nil, want detail")
	}
	if got, want := envelope.Error.Kind, httpx.KindAlreadyIssued; got != want {
		t.Errorf("Error.Kind = %q, want %q", got, want)
	}
	if !strings.Contains(envelope.Error.Message, first.ID) {
		t.Errorf("Error.Message = %q, want it to name credential %s", envelope.Error.Message, first.ID)
	}

	count, err := api.store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("stored credentials = %d, want 1", count)
	}
}

func TestIssueRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"name": "x"`},
		{"missing name", `{"credentialType": "service-account", "details": {"env": "dev"}}`},
		{"missing type", `{"name": "deploy-bot", "details": {"env": "dev"}}`},
		{"empty details", `{"name": "deploy-bot", "credentialType": "service-account", "details": {}}`},
		{"missing details", `{"name": "deploy-bot", "credentialType": "service-account"}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			api, _ := newTestAPI(t)
			recorder := doRequest(t, api.routes(""), http.MethodPost, "/v1/credentials", test.body)
			if got, want := recorder.Code, http.StatusBadRequest; got != want {
				t.Fatalf("status = %d, want %d (body %s)", got, want, recorder.Body)
			}
			envelope := decodeEnvelope(t, recorder)
			if envelope.Error == nil || envelope.Error.Kind != httpx.KindValidation {
				t.Errorf("error = %+v, want kind %q", envelope.Error, httpx.KindValidation)
			}
		})
	}
}

func TestGetCredential(t *testing.T) {
	api, _ := newTestAPI(t)
	mux := api.routes("")
	issued := issueCredential(t, mux,
		`{"name": "deploy-bot", "credentialType": "service-account", "details": {"env": "production"}}`)

	recorder := doRequest(t, mux, http.MethodGet, "/v1/credentials/"+issued.ID, "")
	if got, want := recorder.Code, http.StatusOK; got != want {
		t.Fatalf("status = %d, want %d (body %s)", got, want, recorder.Body)
	}
	fetched := decodeCredential(t, decodeEnvelope(t, recorder).Data)
	if fetched.ID != issued.ID || fetched.Hash != issued.Hash {
		t.Errorf("fetched credential = %+v, want the issued one", fetched)
	}
}

func TestGetUnknownCredential(t *testing.T) {
	api, _ := newTestAPI(t)
	recorder := doRequest(t, api.routes(""), http.MethodGet, "/v1/credentials/deadbeef", "")
	if got, want := recorder.Code, http.StatusNotFound; got != want {
		t.Fatalf("status = %d, want %d (body %s)", got, want, recorder.Body)
	}
	envelope := decodeEnvelope(t, recorder)
	if envelope.Error == nil || envelope.Error.Kind != httpx.KindNotFound {
		t.Errorf("error = %+v, want kind %q", envelope.Error, httpx.KindNotFound)
	}
}

func TestListCredentials(t *testing.T) {
	api, clk := newTestAPI(t)
	mux := api.routes("")

	var issued []credential.Credential
	for _, name := range []string{"alpha", "beta", "gamma"} {
		issued = append(issued, issueCredential(t, mux,
			`{"name": "`+name+`", "credentialType": "service-account", "details": {"env": "dev"}}`))
		clk.Advance(time.Second)
	}

	recorder := doRequest(t, mux, http.MethodGet, "/v1/credentials", "")
	if got, want := recorder.Code, http.StatusOK; got != want {
		t.Fatalf("status = %d, want %d (body %s)", got, want, recorder.Body)
	}
	envelope := decodeEnvelope(t, recorder)
	if envelope.Count == nil || *envelope.Count != 3 {
		t.Fatalf("Count = %v, want 3", envelope.Count)
	}
	var listed []credential.Credential
	if err := json.Unmarshal(envelope.Data, &listed); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	for i := range listed {
		if listed[i].ID != issued[i].ID {
			t.Errorf("listed[%d].ID = %s, want %s (ascending issuance order)", i, listed[i].ID, issued[i].ID)
		}
	}

	// The since cursor is exclusive.
	recorder = doRequest(t, mux, http.MethodGet, "/v1/credentials?since="+issued[1].IssuedAt, "")
	envelope = decodeEnvelope(t, recorder)
	if envelope.Count == nil || *envelope.Count != 1 {
		t.Errorf("Count with since = %v, want 1", envelope.Count)
	}

	recorder = doRequest(t, mux, http.MethodGet, "/v1/credentials?limit=2", "")
	envelope = decodeEnvelope(t, recorder)
	if envelope.Count == nil || *envelope.Count != 2 {
		t.Errorf("Count with limit=2 = %v, want 2", envelope.Count)
	}
}

func TestListRejectsBadLimit(t *testing.T) {
	api, _ := newTestAPI(t)
	mux := api.routes("")
	for _, limit := range []string{"0", "-3", "abc"} {
		recorder := doRequest(t, mux, http.MethodGet, "/v1/credentials?limit="+limit, "")
		if got, want := recorder.Code, http.StatusBadRequest; got != want {
			t.Errorf("limit=%s: status = %d, want %d", limit, got, want)
		}
	}
}

func TestListEmptyStore(t *testing.T) {
	api, _ := newTestAPI(t)
	recorder := doRequest(t, api.routes(""), http.MethodGet, "/v1/credentials", "")
	if got, want := recorder.Code, http.StatusOK; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}
	envelope := decodeEnvelope(t, recorder)
	if envelope.Count == nil || *envelope.Count != 0 {
		t.Errorf("Count = %v, want 0", envelope.Count)
	}
	if got := strings.TrimSpace(string(envelope.Data)); got != "[]" {
		t.Errorf("Data = %s, want [] (null breaks pull clients)", got)
	}
}

func TestSyncFeedAuthorization(t *testing.T) {
	api, _ := newTestAPI(t)
	mux := api.routes("feed-token")

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "Bearer other-token", http.StatusUnauthorized},
		{"wrong scheme", "Basic feed-token", http.StatusUnauthorized},
		{"valid token", "Bearer feed-token", http.StatusOK},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/internal/credentials", nil)
			if test.authHeader != "" {
				request.Header.Set("Authorization", test.authHeader)
			}
			recorder := httptest.NewRecorder()
			mux.ServeHTTP(recorder, request)
			if got := recorder.Code; got != test.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", got, test.wantStatus, recorder.Body)
			}
		})
	}
}

func TestSyncFeedCompression(t *testing.T) {
	api, clk := newTestAPI(t)
	mux := api.routes("")
	issueCredential(t, mux, `{"name": "alpha", "credentialType": "service-account", "details": {"env": "dev"}}`)
	clk.Advance(time.Second)
	issueCredential(t, mux, `{"name": "beta", "credentialType": "service-account", "details": {"env": "dev"}}`)

	for _, encoding := range []string{"zstd", "lz4", ""} {
		name := encoding
		if name == "" {
			name = "identity"
		}
		t.Run(name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/internal/credentials", nil)
			if encoding != "" {
				request.Header.Set("Accept-Encoding", encoding)
			}
			recorder := httptest.NewRecorder()
			mux.ServeHTTP(recorder, request)

			if got, want := recorder.Code, http.StatusOK; got != want {
				t.Fatalf("status = %d, want %d (body %s)", got, want, recorder.Body)
			}
			if got := recorder.Header().Get("Content-Encoding"); got != encoding {
				t.Errorf("Content-Encoding = %q, want %q", got, encoding)
			}

			decoder, err := httpx.NewDecoder(recorder.Body, encoding)
			if err != nil {
				t.Fatalf("NewDecoder: %v", err)
			}
			defer decoder.Close()
			var envelope httpx.Envelope
			if err := json.NewDecoder(decoder).Decode(&envelope); err != nil {
				t.Fatalf("decoding envelope: %v", err)
			}
			if envelope.Count == nil || *envelope.Count != 2 {
				t.Fatalf("Count = %v, want 2", envelope.Count)
			}
			var records []credential.Credential
			if err := json.Unmarshal(envelope.Data, &records); err != nil {
				t.Fatalf("decoding records: %v", err)
			}
			for _, record := range records {
				if err := record.VerifyHash(); err != nil {
					t.Errorf("record %s fails verification after transfer: %v", record.ID, err)
				}
			}
		})
	}
}

func TestSyncFeedHonorsCursor(t *testing.T) {
	api, clk := newTestAPI(t)
	mux := api.routes("")
	first := issueCredential(t, mux, `{"name": "alpha", "credentialType": "service-account", "details": {"env": "dev"}}`)
	clk.Advance(time.Second)
	second := issueCredential(t, mux, `{"name": "beta", "credentialType": "service-account", "details": {"env": "dev"}}`)

	recorder := doRequest(t, mux, http.MethodGet, "/internal/credentials?since="+first.IssuedAt, "")
	envelope := decodeEnvelope(t, recorder)
	if envelope.Count == nil || *envelope.Count != 1 {
		t.Fatalf("Count = %v, want 1", envelope.Count)
	}
	var records []credential.Credential
	if err := json.Unmarshal(envelope.Data, &records); err != nil {
		t.Fatalf("decoding records: %v", err)
	}
	if records[0].ID != second.ID {
		t.Errorf("record = %s, want %s (records at the cursor are excluded)", records[0].ID, second.ID)
	}
}

func TestIssuePushesToPeer(t *testing.T) {
	api, _ := newTestAPI(t)

	received := make(chan credential.Credential, 1)
	stub := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != "/internal/sync" {
			t.Errorf("pushed to %s, want /internal/sync", request.URL.Path)
		}
		var cred credential.Credential
		if err := json.NewDecoder(request.Body).Decode(&cred); err != nil {
			t.Errorf("decoding pushed credential: %v", err)
		}
		received <- cred
		httpx.WriteData(writer, http.StatusOK, map[string]string{"id": cred.ID})
	}))
	defer stub.Close()

	client, err := replication.NewClient(replication.ClientConfig{PeerURL: stub.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	pusher := replication.NewPusher(replication.PusherConfig{
		Client:    client,
		BaseDelay: time.Millisecond,
		Logger:    discardLogger(),
	})
	defer pusher.Close()
	api.pusher = pusher

	issued := issueCredential(t, api.routes(""),
		`{"name": "deploy-bot", "credentialType": "service-account", "details": {"env": "production"}}`)

	pusher.Wait()
	select {
	case pushed := <-received:
		if pushed.ID != issued.ID {
			t.Errorf("pushed credential %s, want %s", pushed.ID, issued.ID)
		}
		if err := pushed.VerifyHash(); err != nil {
			t.Errorf("pushed credential fails verification: %v", err)
		}
	default:
		t.Fatal("credential was never pushed to the peer")
	}
}

func TestHealthz(t *testing.T) {
	api, _ := newTestAPI(t)
	recorder := doRequest(t, api.routes(""), http.MethodGet, "/healthz", "")
	if got, want := recorder.Code, http.StatusOK; got != want {
		t.Fatalf("status = %d, want %d", got, want)
	}
	var health map[string]string
	if err := json.Unmarshal(decodeEnvelope(t, recorder).Data, &health); err != nil {
		t.Fatalf("decoding health payload: %v", err)
	}
	if got, want := health["status"], "ok"; got != want {
		t.Errorf("status = %q, want %q", got, want)
	}
}
