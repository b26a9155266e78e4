// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/emblemhq/emblem/lib/clock"
	"github.com/emblemhq/emblem/lib/credential"
	"github.com/emblemhq/emblem/lib/httpx"
	"github.com/emblemhq/emblem/lib/replication"
	"github.com/emblemhq/emblem/lib/service"
	"github.com/emblemhq/emblem/lib/store"
)

// Request bodies are small JSON documents; anything above this is
// either abuse or a client bug.
const maxRequestBytes = 1 << 20

// Listing defaults for GET /v1/credentials.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// issuerAPI holds the handler dependencies for the issuance service.
type issuerAPI struct {
	store    *store.Store
	pusher   *replication.Pusher // nil when no peer is configured
	clock    clock.Clock
	issuedBy string
	logger   *slog.Logger
}

// routes builds the issuer's HTTP mux. The catch-up feed requires the
// pull token; everything else is open.
func (a *issuerAPI) routes(pullToken string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/credentials", a.handleIssue)
	mux.HandleFunc("GET /v1/credentials/{id}", a.handleGet)
	mux.HandleFunc("GET /v1/credentials", a.handleList)
	mux.Handle("GET /internal/credentials",
		service.BearerAuth(pullToken, http.HandlerFunc(a.handleSyncFeed)))
	mux.HandleFunc("GET /healthz", a.handleHealth)
	return mux
}

// issueRequest is the POST /v1/credentials body.
type issueRequest struct {
	Name           string         `json:"name"`
	CredentialType string         `json:"credentialType"`
	Details        map[string]any `json:"details"`
}

func (a *issuerAPI) handleIssue(writer http.ResponseWriter, request *http.Request) {
	var body issueRequest
	if !decodeRequest(writer, request, &body) {
		return
	}

	cred, err := credential.New(body.Name, body.CredentialType, body.Details, a.issuedBy, a.clock.Now())
	if err != nil {
		httpx.WriteError(writer, httpx.KindValidation, err.Error())
		return
	}

	if err := a.store.Insert(request.Context(), cred); err != nil {
		if errors.Is(err, store.ErrAlreadyIssued) {
			httpx.WriteError(writer, httpx.KindAlreadyIssued,
				fmt.Sprintf("credential %s already issued", cred.ID))
			return
		}
		a.logger.Error("credential insert failed", "credential_id", cred.ID, "error", err)
		httpx.WriteError(writer, httpx.KindInternal, "persisting credential failed")
		return
	}

	a.logger.Info("credential issued",
		"credential_id", cred.ID,
		"name", cred.Name,
		"credential_type", cred.CredentialType,
	)
	httpx.WriteData(writer, http.StatusCreated, cred)

	// Detached: delivery never blocks or fails the issuance response.
	if a.pusher != nil {
		a.pusher.Push(cred)
	}
}

func (a *issuerAPI) handleGet(writer http.ResponseWriter, request *http.Request) {
	id := request.PathValue("id")
	cred, err := a.store.FindByID(request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(writer, httpx.KindNotFound,
				fmt.Sprintf("credential %s not found", id))
			return
		}
		a.logger.Error("credential lookup failed", "credential_id", id, "error", err)
		httpx.WriteError(writer, httpx.KindInternal, "credential lookup failed")
		return
	}
	httpx.WriteData(writer, http.StatusOK, cred)
}

func (a *issuerAPI) handleList(writer http.ResponseWriter, request *http.Request) {
	query := request.URL.Query()

	limit := defaultListLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			httpx.WriteError(writer, httpx.KindValidation,
				fmt.Sprintf("limit must be a positive integer, got %q", raw))
			return
		}
		limit = min(parsed, maxListLimit)
	}

	creds, err := a.store.ListSince(request.Context(), query.Get("since"), limit)
	if err != nil {
		a.logger.Error("credential list failed", "error", err)
		httpx.WriteError(writer, httpx.KindInternal, "listing credentials failed")
		return
	}
	if creds == nil {
		creds = []credential.Credential{}
	}
	httpx.WriteList(writer, http.StatusOK, len(creds), creds)
}

// handleSyncFeed serves the verifier's catch-up pull: every credential
// issued after the cursor, in one compressed batch.
func (a *issuerAPI) handleSyncFeed(writer http.ResponseWriter, request *http.Request) {
	since := request.URL.Query().Get("since")
	creds, err := a.store.ListSince(request.Context(), since, 0)
	if err != nil {
		a.logger.Error("sync feed query failed", "since", since, "error", err)
		httpx.WriteError(writer, httpx.KindInternal, "listing credentials failed")
		return
	}
	// The pull client treats null data as a protocol violation; an
	// empty batch must encode as [].
	if creds == nil {
		creds = []credential.Credential{}
	}

	a.logger.Debug("serving sync feed", "since", since, "count", len(creds))
	if err := httpx.WriteEncodedList(writer, request, len(creds), creds); err != nil {
		a.logger.Error("sync feed write failed", "error", err)
	}
}

func (a *issuerAPI) handleHealth(writer http.ResponseWriter, _ *http.Request) {
	httpx.WriteData(writer, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeRequest decodes a JSON request body into value, writing a
// validation error and returning false when the body is malformed.
func decodeRequest(writer http.ResponseWriter, request *http.Request, value any) bool {
	body := http.MaxBytesReader(writer, request.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(value); err != nil {
		httpx.WriteError(writer, httpx.KindValidation,
			fmt.Sprintf("decoding request body: %v", err))
		return false
	}
	return true
}
