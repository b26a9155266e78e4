// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package httpx

import (
	"encoding/json"
	"net/http"
)

// ErrorKind classifies an API failure on the wire. Kinds are protocol
// constants shared by both services and the CLI.
type ErrorKind string

const (
	// KindValidation: the request was syntactically or semantically
	// malformed.
	KindValidation ErrorKind = "validation"
	// KindUnauthorized: missing or wrong sync token.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindNotFound: no credential with the requested ID.
	KindNotFound ErrorKind = "not_found"
	// KindAlreadyIssued: a credential with identical content already
	// exists.
	KindAlreadyIssued ErrorKind = "already_issued"
	// KindHashMismatch: a record failed integrity verification.
	KindHashMismatch ErrorKind = "hash_mismatch"
	// KindInvalidResponse: a peer response violated the sync protocol.
	KindInvalidResponse ErrorKind = "invalid_response"
	// KindInternal: unexpected server-side failure.
	KindInternal ErrorKind = "internal"
)

// Status returns the HTTP status code a service responds with for the
// kind.
func (k ErrorKind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyIssued:
		return http.StatusConflict
	case KindHashMismatch:
		return http.StatusUnprocessableEntity
	case KindInvalidResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorDetail is the error object inside a failure envelope.
type ErrorDetail struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Envelope is the JSON wrapper on every service response. Data stays
// raw so callers decode it into the right type after checking Success.
type Envelope struct {
	Success bool            `json:"success"`
	Count   *int            `json:"count,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorDetail    `json:"error,omitempty"`
}

// WriteData writes a success envelope carrying one data object.
func WriteData(writer http.ResponseWriter, status int, data any) {
	writeEnvelope(writer, status, struct {
		Success bool `json:"success"`
		Data    any  `json:"data"`
	}{Success: true, Data: data})
}

// WriteList writes a success envelope carrying a record list and its
// count.
func WriteList(writer http.ResponseWriter, status int, count int, data any) {
	writeEnvelope(writer, status, struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
		Data    any  `json:"data"`
	}{Success: true, Count: count, Data: data})
}

// WriteEncodedList writes a success list envelope compressed with the
// encoding negotiated from the request's Accept-Encoding header.
// Identity requests fall back to WriteList. The returned error is for
// logging only: the status line is already on the wire when encoding
// fails, so the client just sees a truncated body.
func WriteEncodedList(writer http.ResponseWriter, request *http.Request, count int, data any) error {
	encoding := NegotiateEncoding(request.Header.Get("Accept-Encoding"))
	if encoding == EncodingIdentity {
		WriteList(writer, http.StatusOK, count, data)
		return nil
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.Header().Set("Content-Encoding", encoding)
	writer.WriteHeader(http.StatusOK)
	encoder, err := NewEncoder(writer, encoding)
	if err != nil {
		return err
	}
	payload := struct {
		Success bool `json:"success"`
		Count   int  `json:"count"`
		Data    any  `json:"data"`
	}{Success: true, Count: count, Data: data}
	if err := json.NewEncoder(encoder).Encode(payload); err != nil {
		encoder.Close()
		return err
	}
	return encoder.Close()
}

// WriteError writes a failure envelope. The status comes from the
// kind.
func WriteError(writer http.ResponseWriter, kind ErrorKind, message string) {
	writeEnvelope(writer, kind.Status(), struct {
		Success bool        `json:"success"`
		Error   ErrorDetail `json:"error"`
	}{Success: false, Error: ErrorDetail{Kind: kind, Message: message}})
}

func writeEnvelope(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	// Encode errors after WriteHeader cannot be reported to the
	// client; the connection is the only casualty.
	_ = json.NewEncoder(writer).Encode(payload)
}
