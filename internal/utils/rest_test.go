package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
	}{
		{name: "bad request", code: http.StatusBadRequest, message: "messages must not be empty"},
		{name: "payment required", code: http.StatusPaymentRequired, message: "insufficient credit balance"},
		{name: "not found", code: http.StatusNotFound, message: "unsupported model: foo"},
		{name: "internal server error", code: http.StatusInternalServerError, message: "store unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			RespondWithError(w, tt.code, tt.message)

			if w.Code != tt.code {
				t.Errorf("RespondWithError() status = %d, want %d", w.Code, tt.code)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("RespondWithError() Content-Type = %s, want application/json", ct)
			}

			var raw map[string]map[string]string
			if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if raw["error"]["message"] != tt.message {
				t.Errorf("RespondWithError() message = %s, want %s", raw["error"]["message"], tt.message)
			}
		})
	}
}

func TestRespondWithJSON(t *testing.T) {
	t.Run("struct payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		payload := struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: "assistant", Content: "hi"}

		if err := RespondWithJSON(w, http.StatusOK, payload); err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}
		if w.Code != http.StatusOK {
			t.Errorf("RespondWithJSON() status = %d, want %d", w.Code, http.StatusOK)
		}

		var response map[string]string
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if response["content"] != "hi" {
			t.Errorf("RespondWithJSON() content = %s, want hi", response["content"])
		}
	})

	t.Run("nil payload", func(t *testing.T) {
		w := httptest.NewRecorder()

		if err := RespondWithJSON(w, http.StatusOK, nil); err != nil {
			t.Errorf("RespondWithJSON() error = %v, want nil", err)
		}
		if body := w.Body.String(); body != "null\n" {
			t.Errorf("RespondWithJSON() body = %q, want null", body)
		}
	})
}
