// Package gateway implements the proxy's HTTP surface: a handful of
// intercepted admin and download paths, and a transparent streaming
// pass-through to the backend daemon for everything else.
package gateway

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/js402/ollamagate/backendclient"
	"github.com/js402/ollamagate/downloadservice"
)

// Config carries the gateway's runtime settings, parsed once at startup.
type Config struct {
	BackendURL    string
	DiskPath      string
	DiskThreshold int
	RateLimit     int
}

type Gateway struct {
	config     Config
	backendURL *url.URL
	backend    *backendclient.Client
	service    downloadservice.Service
	client     *http.Client
}

func New(config Config, backend *backendclient.Client, service downloadservice.Service) (*Gateway, error) {
	backendURL, err := url.Parse(config.BackendURL)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		config:     config,
		backendURL: backendURL,
		backend:    backend,
		service:    service,
		client:     &http.Client{},
	}, nil
}

// ServeHTTP dispatches on exact verb-qualified paths. The switch keeps every
// unmatched method+path combination on the pass-through, which a mux with
// method patterns would turn into 405s.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method + " " + r.URL.Path {
	case "GET /api/queue":
		g.handleQueueStatus(w, r)
	case "GET /api/health":
		g.handleHealth(w, r)
	case "GET /api/tags":
		g.handleTags(w, r)
	case "POST /api/pull":
		g.handlePull(w, r)
	case "POST /api/hf/queue":
		g.handleHubQueue(w, r)
	case "DELETE /api/queue":
		g.handleQueueDelete(w, r)
	case "DELETE /api/delete":
		g.handleModelDelete(w, r)
	default:
		g.proxyRequest(w, r, r.Body, r.ContentLength)
	}
}

// clientAddr resolves the requester's address: the first hop recorded in
// X-Forwarded-For when present, the socket peer otherwise.
func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
