/*
Package core constants shared across the exporter, the list index and the
fetcher. They are the defaults the CLI starts from; every one of them can be
overridden through config or flags.
*/
package core

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
	"time"
)

const (
	// --- Paths ---

	// DefaultInputPath is the Tranco CSV one directory above the generated
	// file.
	DefaultInputPath = "../top-1m.csv"

	// DefaultOutputPath is the generated fragment, imported by the mail
	// handler as a JavaScript module.
	DefaultOutputPath = "topDomains.js"

	// --- Rows ---

	// DefaultDelimiter separates fields in the input file.
	DefaultDelimiter = ','

	// DomainColumn is the 0-based field holding the domain. Field 0 is the
	// rank.
	DomainColumn = 1

	// CancelCheckInterval is how many rows are processed between context
	// checks in the export loop.
	CancelCheckInterval = 1024

	// --- Disk I/O ---

	// DefaultDiskBufferSize is the bufio.Writer size for the output file.
	DefaultDiskBufferSize = 256 * 1024 // 256KB

	// --- Networking ---

	// DefaultListURL is the latest Tranco top-1M list, zipped.
	DefaultListURL = "https://tranco-list.eu/top-1m.csv.zip"

	// MaxNetworkRetries is how many times a failed list download is
	// retried before giving up.
	MaxNetworkRetries = 6

	// RetryBaseDelay is the minimum spacing between download attempts.
	RetryBaseDelay = 125 * time.Millisecond

	// ListRequestTimeout bounds a whole list download, body included.
	ListRequestTimeout = 2 * time.Minute

	// MaxListBytes caps a downloaded body. The zipped 1M list is ~10MB and
	// the CSV ~22MB.
	MaxListBytes = 256 * 1024 * 1024

	// --- Observability ---

	// StatsReportInterval is how often the CLI redraws progress.
	StatsReportInterval = 2 * time.Second
)
