package gateway

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/js402/ollamagate/serverops"
)

const (
	proxyTimeout   = 300 * time.Second
	proxyChunkSize = 8 * 1024
)

// proxyRequest forwards the request to the backend verbatim and streams the
// response back in bounded chunks. contentLength < 0 means unknown.
func (g *Gateway) proxyRequest(w http.ResponseWriter, r *http.Request, body io.Reader, contentLength int64) {
	ctx, cancel := context.WithTimeout(r.Context(), proxyTimeout)
	defer cancel()

	target := *g.backendURL
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		log.Printf("Proxy error building request: %v", err)
		_ = serverops.Error(w, r, err, serverops.ServerOperation)
		return
	}
	if contentLength >= 0 {
		outReq.ContentLength = contentLength
	}
	for header, values := range r.Header {
		switch http.CanonicalHeaderKey(header) {
		case "Host", "Content-Length":
			continue
		}
		for _, value := range values {
			outReq.Header.Add(header, value)
		}
	}

	resp, err := g.client.Do(outReq)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			log.Printf("Backend connection error: %v", err)
			_ = serverops.Error(w, r, serverops.ErrBackendUnavailable, serverops.ProxyOperation)
			return
		}
		log.Printf("Proxy error: %v", err)
		_ = serverops.Error(w, r, err, serverops.ServerOperation)
		return
	}
	defer resp.Body.Close()

	for header, values := range resp.Header {
		if http.CanonicalHeaderKey(header) == "Transfer-Encoding" {
			continue
		}
		for _, value := range values {
			w.Header().Add(header, value)
		}
	}
	w.WriteHeader(resp.StatusCode)

	streamBody(w, resp.Body)
}

// streamBody copies in bounded chunks, flushing after each one so the
// backend's streamed responses reach the client as they are produced. A client
// disconnect surfaces as a write error and just stops the copy.
func streamBody(w http.ResponseWriter, body io.Reader) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, proxyChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return
		}
	}
}
