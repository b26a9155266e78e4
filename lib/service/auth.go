// Copyright 2026 The Emblem Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/emblemhq/emblem/lib/httpx"
)

// BearerAuth wraps next, rejecting requests whose Authorization header
// does not carry the expected bearer token. The comparison is constant
// time. An empty expected token disables authentication and returns
// next unchanged.
func BearerAuth(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	expected := []byte(token)
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		provided, ok := strings.CutPrefix(request.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			httpx.WriteError(writer, httpx.KindUnauthorized, "missing or invalid sync token")
			return
		}
		next.ServeHTTP(writer, request)
	})
}
