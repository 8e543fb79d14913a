package generation_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xraph/credits/generation"
)

func newServer(t *testing.T, status int, body string, seen *[]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			*seen, _ = io.ReadAll(r.Body)
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func request() generation.Request {
	return generation.Request{TemplateID: "anime", Image: []byte("raw"), MimeType: "image/png"}
}

func TestGenerateURLResult(t *testing.T) {
	var seen []byte
	srv := newServer(t, http.StatusOK, `{"result":{"imageUrl":"https://cdn/x.png"}}`, &seen)
	c := generation.New(srv.URL, generation.WithAuthToken("tok"))

	res, err := c.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/x.png", res.ImageURL)

	assert.Equal(t, "anime", gjson.GetBytes(seen, "data.templateId").String())
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("raw")), gjson.GetBytes(seen, "data.image").String())
}

func TestGenerateInlineImage(t *testing.T) {
	img := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	srv := newServer(t, http.StatusOK, `{"result":{"image":"`+img+`"}}`, nil)
	c := generation.New(srv.URL, generation.WithAuthToken("tok"))

	res, err := c.Generate(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), res.Image)
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		rejected bool
	}{
		{"function error", http.StatusOK, `{"error":{"message":"nsfw","status":"INVALID_ARGUMENT"}}`, true},
		{"bad request", http.StatusBadRequest, `{}`, true},
		{"empty result", http.StatusOK, `{"result":{}}`, true},
		{"server error", http.StatusBadGateway, `{}`, false},
		{"not json", http.StatusOK, `<html>`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.body, nil)
			c := generation.New(srv.URL, generation.WithAuthToken("tok"))

			_, err := c.Generate(context.Background(), request())
			require.Error(t, err)
			assert.Equal(t, tt.rejected, errors.Is(err, generation.ErrRejected))
		})
	}
}

func TestGenerateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := generation.New("http://127.0.0.1:0", generation.WithRateLimit(1, 1))
	_, err := c.Generate(ctx, request())
	assert.Error(t, err)
}
