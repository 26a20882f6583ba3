package http

import (
	nethttp "net/http"
	"net/url"
	"testing"

	ntlmssp "github.com/Azure/go-ntlmssp"

	"github.com/paperpolish/polish-int/internal/config"
)

func TestProxyFuncWithBypass(t *testing.T) {
	proxyURL, _ := url.Parse("http://proxy.corp:8080")

	tests := []struct {
		name       string
		noProxy    string
		target     string
		wantBypass bool
	}{
		{"empty list proxies everything", "", "https://polish.example.com/api", false},
		{"wildcard domain", "*.example.com", "https://polish.example.com/api", true},
		{"exact domain matches subdomain", "example.com", "https://polish.example.com/api", true},
		{"cidr", "10.0.0.0/8", "http://10.1.2.3:8000/api", true},
		{"non-matching host", "*.internal.corp,10.0.0.0/8", "https://polish.example.com/api", false},
		{"list with spaces", "*.internal.corp, 192.168.0.0/16", "http://192.168.1.5/api", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proxyFunc := proxyFuncWithBypass(proxyURL, tt.noProxy)
			req, _ := nethttp.NewRequest(nethttp.MethodGet, tt.target, nil)
			result, err := proxyFunc(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantBypass && result != nil {
				t.Errorf("expected bypass for %s, got %v", tt.target, result)
			}
			if !tt.wantBypass {
				if result == nil {
					t.Fatalf("expected proxy for %s, got direct", tt.target)
				}
				if result.Host != "proxy.corp:8080" {
					t.Errorf("proxy host = %s, want proxy.corp:8080", result.Host)
				}
			}
		})
	}
}

func TestBuildProxyURL(t *testing.T) {
	cfg := &config.Config{ProxyHost: "proxy.corp", ProxyUser: "alice"}
	u := buildProxyURL(cfg)
	if u.Host != "proxy.corp:8080" {
		t.Errorf("Host = %s, want default port 8080", u.Host)
	}
	if u.User != nil {
		t.Error("credentials must not be embedded without a password")
	}

	cfg.ProxyPort = 3128
	cfg.ProxyPassword = "pw"
	u = buildProxyURL(cfg)
	if u.Host != "proxy.corp:3128" {
		t.Errorf("Host = %s, want proxy.corp:3128", u.Host)
	}
	if pw, ok := u.User.Password(); !ok || pw != "pw" || u.User.Username() != "alice" {
		t.Errorf("User = %v, want alice:pw", u.User)
	}
}

func TestConfigureHTTPClientModes(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.Config
		wantErr   bool
		wantNTLM  bool
		wantProxy bool
	}{
		{"no proxy", config.Config{ProxyMode: "no-proxy"}, false, false, false},
		{"empty mode", config.Config{}, false, false, false},
		{"system", config.Config{ProxyMode: "system"}, false, false, true},
		{"basic", config.Config{ProxyMode: "basic", ProxyHost: "proxy.corp"}, false, false, true},
		{"basic without host falls back", config.Config{ProxyMode: "basic"}, false, false, false},
		{"ntlm", config.Config{ProxyMode: "ntlm", ProxyHost: "proxy.corp"}, false, true, false},
		{"unsupported", config.Config{ProxyMode: "socks5"}, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			client, err := ConfigureHTTPClient(&cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if client.Timeout != 0 {
				t.Errorf("Timeout = %v, want 0 (per-call deadlines)", client.Timeout)
			}
			if tt.wantNTLM {
				if _, ok := client.Transport.(ntlmssp.Negotiator); !ok {
					t.Errorf("Transport = %T, want ntlmssp.Negotiator", client.Transport)
				}
				return
			}
			tr, ok := client.Transport.(*nethttp.Transport)
			if !ok {
				t.Fatalf("Transport = %T, want *http.Transport", client.Transport)
			}
			if (tr.Proxy != nil) != tt.wantProxy {
				t.Errorf("Proxy set = %v, want %v", tr.Proxy != nil, tt.wantProxy)
			}
		})
	}
}

func TestNeedsProxyPassword(t *testing.T) {
	tests := []struct {
		cfg  config.Config
		want bool
	}{
		{config.Config{ProxyMode: "basic", ProxyUser: "u"}, true},
		{config.Config{ProxyMode: "ntlm", ProxyUser: "u", ProxyPassword: "p"}, false},
		{config.Config{ProxyMode: "system", ProxyUser: "u"}, false},
		{config.Config{ProxyMode: "basic"}, false},
	}
	for _, tt := range tests {
		cfg := tt.cfg
		if got := NeedsProxyPassword(&cfg); got != tt.want {
			t.Errorf("NeedsProxyPassword(%+v) = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}

func TestNewServiceClientDisablesHTTP2ThroughProxy(t *testing.T) {
	cfg := &config.Config{ProxyMode: "basic", ProxyHost: "proxy.corp"}
	client, err := NewServiceClient(cfg)
	if err != nil {
		t.Fatal(err)
	}
	tr := client.Transport.(*nethttp.Transport)
	if tr.ForceAttemptHTTP2 {
		t.Error("HTTP/2 should be disabled through a proxy")
	}
}
