package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/paperpolish/polish-int/internal/config"
)

// NewServiceClient returns the client used for calls to the optimization
// service: the proxy-aware client from ConfigureHTTPClient, with HTTP/2
// enabled when no proxy sits in between.
//
// Set DISABLE_HTTP2=true to force HTTP/1.1; FORCE_HTTP2=true keeps HTTP/2
// even through a proxy.
func NewServiceClient(cfg *config.Config) (*nethttp.Client, error) {
	client, err := ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, err
	}

	// NTLM wraps the transport in a negotiator; leave it as is.
	tr, ok := client.Transport.(*nethttp.Transport)
	if !ok {
		return client, nil
	}

	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	disable := os.Getenv("DISABLE_HTTP2") == "true" ||
		(ProxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true")
	if disable {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	client.Transport = tr
	return client, nil
}
