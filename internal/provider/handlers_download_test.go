package provider

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"stream-resolver-service/internal/mirror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/audio", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Mozilla/5.0", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "audio/mp4")
		_, _ = w.Write([]byte("m4a-bytes"))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleDownload(t *testing.T) {
	upstream := newUpstream(t)
	const id = "dQw4w9WgXcQ"

	t.Run("streams bytes as attachment", func(t *testing.T) {
		res := new(MockResolver)
		srv := NewServer(res, nil, Options{DownloadClient: upstream.Client()})
		res.On("ResolveDownload", mock.Anything, id).Return(mirror.StreamCandidate{
			URL:  upstream.URL + "/audio",
			Tier: mirror.TierAdaptiveAudio,
		}, nil)

		rr := httptest.NewRecorder()
		srv.HandleDownload(rr, httptest.NewRequest(http.MethodGet, "/api/download?video_id="+id+"&title=My%20Song%3A%20%22Live%22%2F", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "m4a-bytes", rr.Body.String())
		assert.Equal(t, "audio/mp4", rr.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="My Song Live.m4a"`, rr.Header().Get("Content-Disposition"))
		res.AssertExpectations(t)
	})

	t.Run("default title", func(t *testing.T) {
		res := new(MockResolver)
		srv := NewServer(res, nil, Options{DownloadClient: upstream.Client()})
		res.On("ResolveDownload", mock.Anything, id).Return(mirror.StreamCandidate{URL: upstream.URL + "/audio"}, nil)

		rr := httptest.NewRecorder()
		srv.HandleDownload(rr, httptest.NewRequest(http.MethodGet, "/api/download?video_id="+id, nil))

		assert.Equal(t, `attachment; filename="track.m4a"`, rr.Header().Get("Content-Disposition"))
	})

	t.Run("nothing resolves", func(t *testing.T) {
		res := new(MockResolver)
		srv := NewServer(res, nil, Options{DownloadClient: upstream.Client()})
		res.On("ResolveDownload", mock.Anything, id).Return(mirror.StreamCandidate{}, mirror.ErrUnavailable)

		rr := httptest.NewRecorder()
		srv.HandleDownload(rr, httptest.NewRequest(http.MethodGet, "/api/download?video_id="+id, nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("upstream refuses", func(t *testing.T) {
		res := new(MockResolver)
		srv := NewServer(res, nil, Options{DownloadClient: upstream.Client()})
		res.On("ResolveDownload", mock.Anything, id).Return(mirror.StreamCandidate{URL: upstream.URL + "/gone"}, nil)

		rr := httptest.NewRecorder()
		srv.HandleDownload(rr, httptest.NewRequest(http.MethodGet, "/api/download?video_id="+id, nil))

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.JSONEq(t, `{"error":"download failed"}`, rr.Body.String())
	})

	t.Run("invalid id", func(t *testing.T) {
		srv := NewServer(new(MockResolver), nil, Options{})
		rr := httptest.NewRecorder()
		srv.HandleDownload(rr, httptest.NewRequest(http.MethodGet, "/api/download?video_id=nope", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Song", "Song"},
		{`a"b\c`, "abc"},
		{"  spaced  ", "spaced"},
		{"v1.2_final-mix", "v1.2_final-mix"},
		{"東京 夜景", "東京 夜景"},
		{"\r\nX-Evil: 1", "X-Evil 1"},
		{"///", "track"},
		{"", "track"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeTitle(tt.in))
		})
	}
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, "m4a", extensionFor("audio/mp4"))
	assert.Equal(t, "webm", extensionFor(`audio/webm; codecs="opus"`))
	assert.Equal(t, "mp4", extensionFor("video/mp4"))
	assert.Equal(t, "bin", extensionFor("application/octet-stream"))
	assert.Equal(t, "bin", extensionFor(""))
}
