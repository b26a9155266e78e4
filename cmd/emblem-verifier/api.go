// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/emblemhq/emblem/lib/credential"
	"github.com/emblemhq/emblem/lib/httpx"
	"github.com/emblemhq/emblem/lib/service"
	"github.com/emblemhq/emblem/lib/store"
)

// Request bodies are single credentials or verification envelopes;
// anything above this is either abuse or a client bug.
const maxRequestBytes = 1 << 20

// Verification outcomes reported to clients. Wire constants.
const (
	reasonHashMismatch      = "hash_mismatch"
	reasonUnknownCredential = "unknown_credential"
	reasonRecordMismatch    = "record_mismatch"
)

// verifierAPI holds the handler dependencies for the verification
// service.
type verifierAPI struct {
	store  *store.Store
	logger *slog.Logger
}

// routes builds the verifier's HTTP mux. The sync receiver requires
// the push token; everything else is open.
func (a *verifierAPI) routes(pushToken string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /internal/sync",
		service.BearerAuth(pushToken, http.HandlerFunc(a.handleSyncReceipt)))
	mux.HandleFunc("POST /v1/verify", a.handleVerify)
	mux.HandleFunc("GET /v1/credentials/{id}", a.handleGet)
	mux.HandleFunc("GET /healthz", a.handleHealth)
	return mux
}

// handleSyncReceipt accepts one pushed credential from the issuer.
// Nothing is trusted until the record's hash is recomputed locally.
func (a *verifierAPI) handleSyncReceipt(writer http.ResponseWriter, request *http.Request) {
	var cred credential.Credential
	if !decodeRequest(writer, request, &cred) {
		return
	}

	if err := cred.Validate(); err != nil {
		httpx.WriteError(writer, httpx.KindValidation, err.Error())
		return
	}
	if err := cred.VerifyHash(); err != nil {
		a.logger.Warn("rejected pushed credential with bad hash",
			"credential_id", cred.ID,
			"error", err,
		)
		httpx.WriteError(writer, httpx.KindHashMismatch,
			fmt.Sprintf("credential %s failed hash verification", cred.ID))
		return
	}

	if err := a.store.Upsert(request.Context(), &cred); err != nil {
		a.logger.Error("credential upsert failed", "credential_id", cred.ID, "error", err)
		httpx.WriteError(writer, httpx.KindInternal, "persisting credential failed")
		return
	}

	a.logger.Info("credential replicated", "credential_id", cred.ID)
	httpx.WriteData(writer, http.StatusOK, map[string]string{"id": cred.ID})
}

// verifyRequest is the POST /v1/verify body.
type verifyRequest struct {
	Credential *credential.Credential `json:"credential"`
}

// verifyResult is the POST /v1/verify response payload.
type verifyResult struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// handleVerify checks a presented credential two ways: its hash must
// recompute from its own fields, and the local replica must hold a
// record with the same id and the same hash. Any well-formed request
// gets a 200; forgery shows up in the result, not the status.
func (a *verifierAPI) handleVerify(writer http.ResponseWriter, request *http.Request) {
	var body verifyRequest
	if !decodeRequest(writer, request, &body) {
		return
	}
	if body.Credential == nil {
		httpx.WriteError(writer, httpx.KindValidation, "credential object is required")
		return
	}
	cred := body.Credential

	if err := cred.VerifyHash(); err != nil {
		httpx.WriteData(writer, http.StatusOK, verifyResult{Valid: false, Reason: reasonHashMismatch})
		return
	}

	stored, err := a.store.FindByID(request.Context(), cred.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteData(writer, http.StatusOK, verifyResult{Valid: false, Reason: reasonUnknownCredential})
			return
		}
		a.logger.Error("credential lookup failed", "credential_id", cred.ID, "error", err)
		httpx.WriteError(writer, httpx.KindInternal, "credential lookup failed")
		return
	}

	// Same id but a different hash means the submitted record's
	// non-identity fields (issuedAt, issuedBy) disagree with what was
	// actually issued.
	if stored.Hash != cred.Hash {
		httpx.WriteData(writer, http.StatusOK, verifyResult{Valid: false, Reason: reasonRecordMismatch})
		return
	}

	httpx.WriteData(writer, http.StatusOK, verifyResult{Valid: true})
}

func (a *verifierAPI) handleGet(writer http.ResponseWriter, request *http.Request) {
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

func (a *verifierAPI) handleHealth(writer http.ResponseWriter, _ *http.Request) {
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
