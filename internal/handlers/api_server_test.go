// internal/handlers/api_server_test.go
package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/openpark/lobbyd/internal/lobby"
)

func testServer() *Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &Server{Log: logger}
}

func TestWriteErrorStatusMapping(t *testing.T) {
	s := testServer()

	cases := []struct {
		err  error
		want int
	}{
		{lobby.ErrUnauthenticated, http.StatusUnauthorized},
		{lobby.ErrForbidden, http.StatusForbidden},
		{lobby.ErrNotOwner, http.StatusForbidden},
		{lobby.ErrBanned, http.StatusForbidden},
		{lobby.ErrNotFound, http.StatusNotFound},
		{lobby.ErrTargetNotMember, http.StatusNotFound},
		{lobby.ErrConflict, http.StatusConflict},
		{lobby.ErrLobbyFull, http.StatusConflict},
		{lobby.ErrAlreadyMember, http.StatusConflict},
		{lobby.ErrLobbyNotOpen, http.StatusConflict},
		{lobby.ErrRateLimited, http.StatusTooManyRequests},
		{lobby.ErrLobbyClosed, http.StatusGone},
		{lobby.ErrPersistence, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		w := httptest.NewRecorder()
		s.writeError(w, c.err)
		if w.Code != c.want {
			t.Errorf("writeError(%v) = %d, want %d", c.err, w.Code, c.want)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("writeError(%v) content type = %q", c.err, ct)
		}
	}
}

func TestExtractCookieToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"auth_token=abc123", "abc123"},
		{"other=x; auth_token=abc123; more=y", "abc123"},
		{"other=x", ""},
		{"", ""},
	}
	for _, c := range cases {
		if got := extractCookieToken(c.header, "auth_token"); got != c.want {
			t.Errorf("extractCookieToken(%q) = %q, want %q", c.header, got, c.want)
		}
	}
}
