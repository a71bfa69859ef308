package mirror

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Tier is one stage of the stream fallback chain.
type Tier string

const (
	TierHLS           Tier = "hls"
	TierAdaptiveAudio Tier = "adaptive-audio"
	TierMuxedVideo    Tier = "muxed-video"
	TierExternalProxy Tier = "external-proxy"
)

const thumbnailURLFormat = "https://img.youtube.com/vi/%s/mqdefault.jpg"

// itags accepted from the conversion proxy: 140 is m4a audio, 18 is 360p mp4.
var proxyItags = []string{"140", "18"}

// SearchHit is one normalized search result.
type SearchHit struct {
	VideoID       string `json:"videoId"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	LengthSeconds int64  `json:"lengthSeconds"`
	Thumbnail     string `json:"thumbnail"`
}

// StreamCandidate is one playable URL option together with the attributes
// its tier ranks on.
type StreamCandidate struct {
	URL     string `json:"url"`
	Tier    Tier   `json:"tier"`
	Height  int    `json:"height,omitempty"`
	Bitrate int64  `json:"bitrate,omitempty"`
	Source  string `json:"source"`
}

// flexInt accepts a JSON number or a numeric string; anything else is 0.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(int64(x))
		return nil
	}
	*f = 0
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')) {
		*f = flexString(b)
		return nil
	}
	*f = ""
	return nil
}

type searchEntry struct {
	VideoID       flexString `json:"videoId"`
	Title         flexString `json:"title"`
	Author        flexString `json:"author"`
	LengthSeconds flexInt    `json:"lengthSeconds"`
}

// ParseSearchHits maps a mirror's search response to hits. Entries without a
// video id, or that are not objects, are dropped. A body that is not an
// array yields nil.
func ParseSearchHits(raw json.RawMessage) []SearchHit {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	return lo.FilterMap(entries, func(e json.RawMessage, _ int) (SearchHit, bool) {
		var se searchEntry
		if err := json.Unmarshal(e, &se); err != nil {
			return SearchHit{}, false
		}
		id := strings.TrimSpace(string(se.VideoID))
		if id == "" {
			return SearchHit{}, false
		}
		return SearchHit{
			VideoID:       id,
			Title:         string(se.Title),
			Author:        string(se.Author),
			LengthSeconds: max(int64(se.LengthSeconds), 0),
			Thumbnail:     fmt.Sprintf(thumbnailURLFormat, id),
		}, true
	})
}

type hlsResponse struct {
	Formats []struct {
		URL        flexString `json:"url"`
		Resolution flexString `json:"resolution"`
	} `json:"m3u8_formats"`
}

// BestHLS picks the manifest with the greatest vertical resolution.
func BestHLS(raw json.RawMessage, base string) (StreamCandidate, bool) {
	var resp hlsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return StreamCandidate{}, false
	}

	var best StreamCandidate
	found := false
	for _, f := range resp.Formats {
		if f.URL == "" {
			continue
		}
		h := parseHeight(string(f.Resolution))
		if !found || h > best.Height {
			best = StreamCandidate{
				URL:    absoluteURL(base, string(f.URL)),
				Tier:   TierHLS,
				Height: h,
				Source: base,
			}
			found = true
		}
	}
	return best, found
}

// parseHeight reads H out of "WxH"; absent or malformed values rank as 0.
func parseHeight(resolution string) int {
	if resolution == "" {
		resolution = "0x0"
	}
	parts := strings.Split(resolution, "x")
	h, err := strconv.Atoi(strings.TrimSpace(parts[len(parts)-1]))
	if err != nil || h < 0 {
		return 0
	}
	return h
}

type videoFormat struct {
	URL     flexString `json:"url"`
	Type    flexString `json:"type"`
	Bitrate flexInt    `json:"bitrate"`
}

type videoResponse struct {
	AdaptiveFormats []videoFormat `json:"adaptiveFormats"`
	FormatStreams   []videoFormat `json:"formatStreams"`
}

func parseVideo(raw json.RawMessage) (videoResponse, bool) {
	var v videoResponse
	if err := json.Unmarshal(raw, &v); err != nil {
		return videoResponse{}, false
	}
	return v, true
}

// BestAdaptiveAudio picks the audio-only adaptive format with the highest bitrate.
func BestAdaptiveAudio(raw json.RawMessage, base string) (StreamCandidate, bool) {
	v, ok := parseVideo(raw)
	if !ok {
		return StreamCandidate{}, false
	}
	return bestAudio(v, base)
}

func bestAudio(v videoResponse, base string) (StreamCandidate, bool) {
	audio := lo.Filter(v.AdaptiveFormats, func(f videoFormat, _ int) bool {
		return f.URL != "" && strings.Contains(string(f.Type), "audio/")
	})
	if len(audio) == 0 {
		return StreamCandidate{}, false
	}

	best := audio[0]
	for _, f := range audio[1:] {
		if f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return StreamCandidate{
		URL:     absoluteURL(base, string(best.URL)),
		Tier:    TierAdaptiveAudio,
		Bitrate: int64(best.Bitrate),
		Source:  base,
	}, true
}

// FirstMuxed returns the first combined audio+video stream with a URL.
func FirstMuxed(raw json.RawMessage, base string) (StreamCandidate, bool) {
	v, ok := parseVideo(raw)
	if !ok {
		return StreamCandidate{}, false
	}
	return firstMuxed(v, base)
}

func firstMuxed(v videoResponse, base string) (StreamCandidate, bool) {
	f, ok := lo.Find(v.FormatStreams, func(f videoFormat) bool {
		return f.URL != ""
	})
	if !ok {
		return StreamCandidate{}, false
	}
	return StreamCandidate{
		URL:    absoluteURL(base, string(f.URL)),
		Tier:   TierMuxedVideo,
		Source: base,
	}, true
}

// extractVideoStream prefers audio-only over muxed video from one response.
func extractVideoStream(raw json.RawMessage, base string) (StreamCandidate, bool) {
	v, ok := parseVideo(raw)
	if !ok {
		return StreamCandidate{}, false
	}
	if c, ok := bestAudio(v, base); ok {
		return c, true
	}
	return firstMuxed(v, base)
}

type proxyResponse struct {
	Formats []struct {
		Itag flexString `json:"itag"`
		URL  flexString `json:"url"`
	} `json:"formats"`
}

// ProxyFormat returns the first allow-listed format from the conversion proxy.
func ProxyFormat(raw json.RawMessage, base string) (StreamCandidate, bool) {
	var resp proxyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return StreamCandidate{}, false
	}
	for _, f := range resp.Formats {
		if f.URL != "" && lo.Contains(proxyItags, string(f.Itag)) {
			return StreamCandidate{
				URL:    absoluteURL(base, string(f.URL)),
				Tier:   TierExternalProxy,
				Source: base,
			}, true
		}
	}
	return StreamCandidate{}, false
}

// absoluteURL rewrites a backend-relative URL against that backend's base.
func absoluteURL(base, u string) string {
	switch {
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	case strings.HasPrefix(u, "/"):
		return strings.TrimRight(base, "/") + u
	}
	return u
}
