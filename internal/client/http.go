// Package client holds the shared HTTP client used for list downloads. It is
// tuned for a few large sequential transfers: a small idle pool, a long
// overall timeout, and a User-Agent identifying the tool to list hosts.
package client

/*
topdomains — fast tool in Go for exporting and checking top-domain lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	// DialTimeout bounds connection setup.
	DialTimeout = 5 * time.Second
	// KeepAliveTimeout is the TCP keep-alive probe interval.
	KeepAliveTimeout = 60 * time.Second
	// RequestTimeout covers a whole request including the body. A full list
	// is tens of megabytes.
	RequestTimeout = 2 * time.Minute
	// MaxIdleConnsPerHost stays small; downloads are sequential.
	MaxIdleConnsPerHost = 4
	// UserAgent identifies the tool to list hosts.
	UserAgent = "topdomains/1.0 (+https://github.com/x-stp/topdomains)"
)

const (
	defaultIdleConnTimeout = 90 * time.Second
	defaultMaxIdleConns    = 16
	defaultMaxConnsPerHost = 8
)

var (
	sharedClient      *http.Client
	sharedClientLock  sync.RWMutex
	clientInitialized bool
)

// Config tunes the shared client. Zero fields take the package defaults.
type Config struct {
	DialTimeout         time.Duration
	KeepAliveTimeout    time.Duration
	IdleConnTimeout     time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	// RequestTimeout is the http.Client timeout: dial, redirects and body.
	RequestTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		DialTimeout:         DialTimeout,
		KeepAliveTimeout:    KeepAliveTimeout,
		IdleConnTimeout:     defaultIdleConnTimeout,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		MaxConnsPerHost:     defaultMaxConnsPerHost,
		RequestTimeout:      RequestTimeout,
	}
}

// withDefaults returns a copy of c with zero fields filled in.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.KeepAliveTimeout <= 0 {
		c.KeepAliveTimeout = d.KeepAliveTimeout
	}
	if c.IdleConnTimeout <= 0 {
		c.IdleConnTimeout = d.IdleConnTimeout
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = d.MaxIdleConns
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = d.MaxIdleConnsPerHost
	}
	if c.MaxConnsPerHost <= 0 {
		c.MaxConnsPerHost = d.MaxConnsPerHost
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	return c
}

// InitHTTPClient replaces the shared client. A nil config means defaults.
// Idle connections of the previous client are closed. Thread-safe.
func InitHTTPClient(config *Config) {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	var cfg Config
	if config != nil {
		cfg = *config
	}
	cfg = cfg.withDefaults()

	if sharedClient != nil {
		sharedClient.CloseIdleConnections()
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAliveTimeout,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// Zipped lists are already compressed; a plain CSV benefits from
		// transparent gzip.
		DisableCompression: false,
		ForceAttemptHTTP2:  true,
	}

	sharedClient = &http.Client{
		Transport: &userAgentTransport{base: transport, agent: UserAgent},
		Timeout:   cfg.RequestTimeout,
	}
	clientInitialized = true
}

// GetHTTPClient returns the shared client, creating it with defaults on
// first use. Thread-safe.
func GetHTTPClient() *http.Client {
	sharedClientLock.RLock()
	if !clientInitialized {
		sharedClientLock.RUnlock()
		InitHTTPClient(nil)
		sharedClientLock.RLock()
	}
	c := sharedClient
	sharedClientLock.RUnlock()
	return c
}

// userAgentTransport sets a User-Agent on requests that do not carry one.
type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

// RoundTrip implements http.RoundTripper.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(r)
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the
// wrapped transport.
func (t *userAgentTransport) CloseIdleConnections() {
	if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		ci.CloseIdleConnections()
	}
}
