/*
Package config holds the tunables of an export and of list fetching.
Values come from built-in defaults, then an optional YAML file, then
command-line flags (applied by the CLI).
*/
package config

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
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/x-stp/topdomains/internal/core"
)

// Config is the full set of tunables. Field names double as YAML keys.
type Config struct {
	Input      string        `yaml:"input"`
	Output     string        `yaml:"output"`
	Delimiter  string        `yaml:"delimiter"`
	Column     int           `yaml:"column"`
	VarName    string        `yaml:"var_name"`
	Compress   bool          `yaml:"compress"`
	LoadAll    bool          `yaml:"load_all"`
	BufferSize int           `yaml:"buffer_size"`
	ListURL    string        `yaml:"list_url"`
	Fetch      FetchConfig   `yaml:"fetch"`
	Metrics    MetricsConfig `yaml:"metrics"`
}

// FetchConfig tunes list downloads. Durations use Go syntax ("90s", "2m").
// Zero values keep the built-in defaults.
type FetchConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	MaxBytes      int64         `yaml:"max_bytes"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultMetricsAddr is where /metrics is served when enabled.
const DefaultMetricsAddr = ":9090"

// Default returns the historical layout: ../top-1m.csv in, topDomains.js
// out, comma-separated, domain in column 1.
func Default() Config {
	return Config{
		Input:      core.DefaultInputPath,
		Output:     core.DefaultOutputPath,
		Delimiter:  string(core.DefaultDelimiter),
		Column:     core.DomainColumn,
		BufferSize: core.DefaultDiskBufferSize,
		ListURL:    core.DefaultListURL,
		Fetch: FetchConfig{
			Timeout:       core.ListRequestTimeout,
			Retries:       core.MaxNetworkRetries,
			RetryInterval: core.RetryBaseDelay,
			MaxBytes:      core.MaxListBytes,
		},
		Metrics: MetricsConfig{
			Addr: DefaultMetricsAddr,
		},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		kind := core.KindIO
		if errors.Is(err, fs.ErrNotExist) {
			kind = core.KindFileNotFound
		}
		return Config{}, core.NewError("config.load", kind, path, err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, core.NewError("config.load", core.KindInvalidConfig, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, core.NewError("config.load", core.KindInvalidConfig, path, err)
	}
	return cfg, nil
}

// DelimiterRune returns the delimiter as a single rune.
func (c Config) DelimiterRune() (rune, error) {
	if c.Delimiter == "" {
		return 0, errors.New("delimiter is empty")
	}
	r, size := utf8.DecodeRuneInString(c.Delimiter)
	if size != len(c.Delimiter) {
		return 0, fmt.Errorf("delimiter %q must be a single character", c.Delimiter)
	}
	if err := core.ValidateDelimiter(r); err != nil {
		return 0, err
	}
	return r, nil
}

// Validate checks every field that can be wrong independently of the
// filesystem.
func (c Config) Validate() error {
	var errs []error
	if c.Input == "" {
		errs = append(errs, errors.New("input is empty"))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("output is empty"))
	}
	if _, err := c.DelimiterRune(); err != nil {
		errs = append(errs, err)
	}
	if c.Column < 0 {
		errs = append(errs, fmt.Errorf("column %d is negative", c.Column))
	}
	if c.BufferSize < 0 {
		errs = append(errs, fmt.Errorf("buffer_size %d is negative", c.BufferSize))
	}
	if c.ListURL == "" {
		errs = append(errs, errors.New("list_url is empty"))
	}
	if c.Fetch.Timeout < 0 || c.Fetch.RetryInterval < 0 {
		errs = append(errs, errors.New("fetch durations must not be negative"))
	}
	if c.Fetch.Retries < 0 {
		errs = append(errs, fmt.Errorf("fetch.retries %d is negative", c.Fetch.Retries))
	}
	if c.Fetch.MaxBytes < 0 {
		errs = append(errs, fmt.Errorf("fetch.max_bytes %d is negative", c.Fetch.MaxBytes))
	}
	if c.VarName != "" && !isIdentifier(c.VarName) {
		errs = append(errs, fmt.Errorf("var_name %q is not a JavaScript identifier", c.VarName))
	}
	return errors.Join(errs...)
}

// ExportConfig converts to the exporter's parameters. Call Validate first.
func (c Config) ExportConfig() (*core.ExportConfig, error) {
	delim, err := c.DelimiterRune()
	if err != nil {
		return nil, core.NewError("config.export", core.KindInvalidConfig, "", err)
	}
	return &core.ExportConfig{
		InputPath:      c.Input,
		OutputPath:     c.Output,
		Delimiter:      delim,
		Column:         c.Column,
		VarName:        c.VarName,
		LoadAll:        c.LoadAll,
		CompressOutput: c.Compress,
		BufferSize:     c.BufferSize,
	}, nil
}

// isIdentifier accepts the ASCII subset of JavaScript identifiers.
func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}
