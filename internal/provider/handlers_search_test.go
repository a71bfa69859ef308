package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stream-resolver-service/internal/mirror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestHandleSearch(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		res := new(MockResolver)
		srv := NewServer(res, nil, Options{})

		expected := mirror.SearchResult{
			Results: []mirror.SearchHit{{
				VideoID:       "abc",
				Title:         "Song",
				Author:        "Band - Topic",
				LengthSeconds: 200,
				Thumbnail:     "https://img.youtube.com/vi/abc/mqdefault.jpg",
			}},
			Source: "https://m1",
		}
		res.On("Search", mock.Anything, "daft punk").Return(expected, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/search?q=daft%20punk", nil)
		rr := httptest.NewRecorder()
		srv.HandleSearch(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp mirror.SearchResult
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, expected, resp)
		res.AssertExpectations(t)
	})

	t.Run("missing query", func(t *testing.T) {
		srv := NewServer(new(MockResolver), nil, Options{})
		rr := httptest.NewRecorder()
		srv.HandleSearch(rr, httptest.NewRequest(http.MethodGet, "/api/search?q=%20%20", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "q is required")
	})

	t.Run("query too long", func(t *testing.T) {
		srv := NewServer(new(MockResolver), nil, Options{})
		rr := httptest.NewRecorder()
		srv.HandleSearch(rr, httptest.NewRequest(http.MethodGet, "/api/search?q="+strings.Repeat("a", 201), nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "too long")
	})

	t.Run("every mirror failed", func(t *testing.T) {
		res := new(MockResolver)
		srv := NewServer(res, nil, Options{})
		res.On("Search", mock.Anything, "x").Return(mirror.SearchResult{}, mirror.ErrUnavailable)

		rr := httptest.NewRecorder()
		srv.HandleSearch(rr, httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.JSONEq(t, `{"error":"search unavailable"}`, rr.Body.String())
		res.AssertExpectations(t)
	})

	t.Run("client went away", func(t *testing.T) {
		res := new(MockResolver)
		srv := NewServer(res, nil, Options{})
		res.On("Search", mock.Anything, "x").Return(mirror.SearchResult{}, context.Canceled)

		rr := httptest.NewRecorder()
		srv.HandleSearch(rr, httptest.NewRequest(http.MethodGet, "/api/search?q=x", nil))

		assert.Empty(t, rr.Body.String())
	})
}
