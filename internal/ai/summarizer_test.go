// internal/ai/summarizer_test.go
package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizer_Summarize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Contains(t, req.Prompt, "findings")

		json.NewEncoder(w).Encode(generateResponse{Response: `{"title": "ok"}`})
	}))
	defer server.Close()

	s := NewSummarizer(server.URL, "test-model")
	out, err := s.Summarize(context.Background(), "summarize these findings")

	require.NoError(t, err)
	assert.Equal(t, `{"title": "ok"}`, out)
}

func TestSummarizer_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := NewSummarizer(server.URL, "test-model")
	_, err := s.Summarize(context.Background(), "anything")

	assert.Error(t, err)
}
