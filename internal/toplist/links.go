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
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/x-stp/topdomains/internal/metrics"
)

// bareLinkPattern matches http(s) URLs and www. hosts in running text.
var bareLinkPattern = regexp.MustCompile(`(?i)(?:https?://|www\.)[^\s^"<]+`)

// trailingPunct is stripped from the end of links found in prose, where a
// sentence often ends right after the URL.
const trailingPunct = ".,;:!?)]}'"

// ExtractLinks returns the links in an HTML document: every http(s) or www.
// href of an <a> element, followed by every bare link in its text nodes.
// Order is first appearance and duplicates are dropped. Plain text input
// works too; it is parsed as a body with no anchors.
func ExtractLinks(r io.Reader) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	var links []string
	seen := make(map[string]struct{})
	add := func(link string) {
		link = strings.TrimRight(strings.TrimSpace(link), trailingPunct)
		if link == "" {
			return
		}
		if _, ok := seen[link]; ok {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if isWebLink(href) {
			add(href)
		}
	})
	for _, n := range doc.Nodes {
		eachText(n, func(text string) {
			for _, m := range bareLinkPattern.FindAllString(text, -1) {
				add(m)
			}
		})
	}
	return links, nil
}

// eachText visits text nodes in document order. Each node is matched on its
// own so adjacent blocks never run together into one bogus URL.
func eachText(n *html.Node, fn func(string)) {
	if n.Type == html.TextNode {
		fn(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		eachText(c, fn)
	}
}

func isWebLink(s string) bool {
	l := strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://") || strings.HasPrefix(l, "www.")
}

// LinkFinding is the verdict for one distinct registrable domain.
type LinkFinding struct {
	// Domain is the registrable domain (eTLD+1) of Host.
	Domain string
	// Host and Link are taken from the first link seen for Domain.
	Host   string
	Link   string
	Listed bool
}

// CheckLinks resolves each link to its registrable domain and reports, once
// per domain in first-seen order, whether the list contains it. A domain is
// listed when either the full host or its registrable domain is in the
// index. Links without a usable host are skipped.
func (ix *Index) CheckLinks(links []string) []LinkFinding {
	m := metrics.GetMetrics()
	var findings []LinkFinding
	seen := make(map[string]struct{})
	for _, link := range links {
		host := HostFromLink(link)
		if host == "" {
			continue
		}
		domain := RegistrableDomain(host)
		if _, ok := seen[domain]; ok {
			continue
		}
		seen[domain] = struct{}{}

		listed := ix.Contains(host) || ix.Contains(domain)
		m.RecordCheck(listed)
		findings = append(findings, LinkFinding{Domain: domain, Host: host, Link: link, Listed: listed})
	}
	return findings
}

// Unlisted filters findings down to domains absent from the list.
func Unlisted(findings []LinkFinding) []LinkFinding {
	var out []LinkFinding
	for _, f := range findings {
		if !f.Listed {
			out = append(out, f)
		}
	}
	return out
}
