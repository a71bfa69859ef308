package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"
)

const defaultDownloadTitle = "track"

var extensionsByType = map[string]string{
	"audio/mp4":  "m4a",
	"audio/webm": "webm",
	"audio/mpeg": "mp3",
	"audio/ogg":  "ogg",
	"video/mp4":  "mp4",
	"video/webm": "webm",
}

// HandleDownload resolves a track and relays its bytes as an attachment.
func (s *Server) HandleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := videoIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid video_id")
		return
	}
	title := sanitizeTitle(r.URL.Query().Get("title"))
	fields := log.Fields{"video_id": id}

	resolveCtx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	c, err := s.resolver.ResolveDownload(resolveCtx, id)
	cancel()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.WithFields(fields).WithError(err).Warn("download resolution failed")
		writeError(w, http.StatusServiceUnavailable, "download source not found")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, c.URL, nil)
	if err != nil {
		writeError(w, http.StatusBadGateway, "download failed")
		return
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)

	resp, err := s.download.Do(req)
	if err != nil {
		log.WithFields(fields).WithError(err).Warn("download upstream request failed")
		writeError(w, http.StatusBadGateway, "download failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.WithFields(fields).WithField("status", resp.StatusCode).Warn("download upstream refused")
		writeError(w, http.StatusBadGateway, "download failed")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, title, extensionFor(contentType)))
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		// headers are gone; the client sees a truncated body
		log.WithFields(fields).WithFields(log.Fields{"bytes": n, "error": err}).Info("download interrupted")
		return
	}
	log.WithFields(fields).WithFields(log.Fields{"bytes": n, "tier": c.Tier}).Info("download complete")
}

// sanitizeTitle keeps letters, digits and "._- " so the value is safe inside
// a quoted Content-Disposition filename.
func sanitizeTitle(title string) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._- ", r) {
			return r
		}
		return -1
	}, title)
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return defaultDownloadTitle
	}
	return clean
}

func extensionFor(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "bin"
	}
	if ext, ok := extensionsByType[mt]; ok {
		return ext
	}
	return "bin"
}
