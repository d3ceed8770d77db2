package util

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
	"net/url"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxFilenameLength is a byte budget, well under common OS limits.
const maxFilenameLength = 100

// SanitizeFilename makes a single path element out of a URL segment.
// Separators, shell wildcards and control characters become underscores.
// Names over maxFilenameLength bytes are cut on a rune boundary, keeping
// the extension when it fits so a list stays recognisable as .csv.
func SanitizeFilename(input string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r), unicode.IsControl(r):
			return '_'
		}
		return r
	}, input)
	if len(name) <= maxFilenameLength {
		return name
	}
	ext := path.Ext(name)
	if len(ext) >= maxFilenameLength/2 {
		ext = ""
	}
	return truncateRunes(strings.TrimSuffix(name, ext), maxFilenameLength-len(ext)) + ext
}

// truncateRunes cuts s to at most n bytes without splitting a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ListFilename derives the local name for a downloaded list. The last path
// segment of rawURL is used with a trailing ".zip" dropped, since zipped
// lists are stored unpacked. fallback is returned when the URL has no
// usable segment.
func ListFilename(rawURL, fallback string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return fallback
	}
	base = strings.TrimSuffix(base, ".zip")
	if base == "" {
		return fallback
	}
	return SanitizeFilename(base)
}
