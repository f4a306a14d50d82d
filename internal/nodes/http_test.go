package nodes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patali/fluxgraph/internal/engine"
)

func TestHTTPNode(t *testing.T) {
	node := NewHTTPNode(http.DefaultClient)

	t.Run("missing url", func(t *testing.T) {
		_, err := node.Execute(context.Background(), &engine.NodeExecutionInput{Config: map[string]interface{}{}})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "url is required")
	})

	t.Run("default method is GET", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
		}))
		defer srv.Close()

		out, err := node.Execute(context.Background(), &engine.NodeExecutionInput{
			Config: map[string]interface{}{"url": srv.URL},
		})
		require.NoError(t, err)
		assert.Equal(t, 200, out["status_code"])
		assert.Equal(t, "GET", out["method"])
	})

	t.Run("non-2xx marks success false without erroring", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		out, err := node.Execute(context.Background(), &engine.NodeExecutionInput{
			Config: map[string]interface{}{"url": srv.URL},
		})
		require.NoError(t, err)
		assert.Equal(t, false, out["success"])
		assert.Contains(t, out["error"], "500")
	})

	t.Run("POST body defaults content type to json", func(t *testing.T) {
		var gotContentType string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotContentType = r.Header.Get("Content-Type")
			w.Write([]byte(`{"received":true}`))
		}))
		defer srv.Close()

		_, err := node.Execute(context.Background(), &engine.NodeExecutionInput{
			Config: map[string]interface{}{
				"url":    srv.URL,
				"method": "post",
				"body":   map[string]interface{}{"a": 1},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "application/json", gotContentType)
	})
}
