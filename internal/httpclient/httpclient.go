// Package httpclient builds the outbound HTTP clients shared by every data source.
package httpclient

import (
	"net/http"
	"net/url"
	"time"
)

// New returns a client with the given timeout, routed through proxyURL when it
// parses. An empty or malformed proxy means a direct connection.
func New(proxyURL string, timeout time.Duration) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil && u.Host != "" {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
