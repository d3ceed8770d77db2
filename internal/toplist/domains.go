// Package toplist works with ranked top-domain lists: it downloads them,
// indexes them for membership lookups, and checks the links found in a
// document against them.
package toplist

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
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeDomain lowercases a domain and strips surrounding whitespace and
// dots. Values that cannot be a host name (embedded whitespace or path
// separators) normalize to "".
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	if domain == "" || strings.ContainsAny(domain, " \t\r\n/\\") {
		return ""
	}
	domain = strings.ToLower(domain)
	domain = strings.Trim(domain, ".")
	return domain
}

// HostFromLink returns the normalized host of a link. Links without a scheme,
// such as "www.example.com/path", are read as http URLs. Unparsable links
// yield "".
func HostFromLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if !strings.Contains(link, "://") {
		link = "http://" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return NormalizeDomain(u.Hostname())
}

// RegistrableDomain reduces a host to its eTLD+1 using the public suffix
// list, so "mail.google.co.uk" becomes "google.co.uk". IP addresses and hosts
// the list cannot reduce are returned unchanged.
func RegistrableDomain(host string) string {
	host = NormalizeDomain(host)
	if host == "" {
		return ""
	}
	if net.ParseIP(host) != nil {
		return host
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}
