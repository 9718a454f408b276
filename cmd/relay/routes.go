package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"transfer-relay/auth"
	"transfer-relay/domain"
	apperrors "transfer-relay/errors"
	"transfer-relay/relay"
)

// registerRoutes mounts the small JSON surface next to the websocket:
// download gating, listings, search and dev identity tokens. File bytes
// themselves never travel through these routes.
func registerRoutes(mux *http.ServeMux, registrar *relay.Registrar, tokenDuration time.Duration, log *slog.Logger) {
	mux.HandleFunc("GET /transfers/status", func(w http.ResponseWriter, r *http.Request) {
		code := domain.TransferCode(r.URL.Query().Get("code"))
		status, err := registrar.Status(code)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]any{"code": code, "status": status})
	})

	mux.HandleFunc("GET /transfers/sent", func(w http.ResponseWriter, r *http.Request) {
		transfers, err := registrar.SentBy(r.URL.Query().Get("user_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, transfers)
	})

	mux.HandleFunc("GET /transfers/received", func(w http.ResponseWriter, r *http.Request) {
		transfers, err := registrar.ReceivedBy(r.URL.Query().Get("user_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, transfers)
	})

	mux.HandleFunc("GET /transfers/search", func(w http.ResponseWriter, r *http.Request) {
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = 20
		}
		matches, err := registrar.Search(r.Context(), r.URL.Query().Get("q"), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, matches)
	})

	mux.HandleFunc("DELETE /transfers", func(w http.ResponseWriter, r *http.Request) {
		code := domain.TransferCode(r.URL.Query().Get("code"))
		requester := r.URL.Query().Get("user_id")
		if err := registrar.Delete(code, requester); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /token", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "user_id required", http.StatusBadRequest)
			return
		}
		token, err := auth.GenerateToken(userID, tokenDuration)
		if err != nil {
			log.Error("token generation failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"token": token})
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if apperrors.Is(err, apperrors.ErrNotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, apperrors.Kind(err), status)
}
