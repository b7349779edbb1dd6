package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const anyOrigin = "*"

type originSet struct {
	any     bool
	origins map[string]struct{}
}

func newOriginSet(allowed []string) originSet {
	set := originSet{origins: make(map[string]struct{}, len(allowed))}
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == anyOrigin {
			set.any = true
			continue
		}
		if origin := extractOrigin(o); origin != "" {
			set.origins[origin] = struct{}{}
		}
	}
	return set
}

func (s originSet) allows(origin string) bool {
	if s.any {
		return true
	}
	_, ok := s.origins[origin]
	return ok
}

// NewCheckOrigin returns a CheckOrigin function for the stream upgrader.
// It allows empty origins (non-browser clients), any origin in allowed ("*"
// allows all), and localhost origins when isDevelopment is true.
func NewCheckOrigin(allowed []string, isDevelopment bool) func(r *http.Request) bool {
	set := newOriginSet(allowed)

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" {
			return true
		}

		if set.allows(origin) {
			return true
		}

		if isDevelopment && isLocalhostOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
