/*
   Copyright 2020 YANDEX LLC

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package chhttp

import (
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a file representation of client configuration.
//
//	url: http://clickhouse:8123
//	database: logs
//	user: reader
//	password: secret
//	compression: lz4
//	timeout: 30s
//	random_query_ids: true
//	settings:
//	  max_execution_time: "60"
type Config struct {
	URL            string            `yaml:"url"`
	Database       string            `yaml:"database"`
	User           string            `yaml:"user"`
	Password       string            `yaml:"password"`
	Compression    string            `yaml:"compression"`
	Timeout        time.Duration     `yaml:"timeout"`
	RandomQueryIDs bool              `yaml:"random_query_ids"`
	Settings       map[string]string `yaml:"settings"`
}

// ParseConfig parses YAML configuration
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ConfigError{err: err}
	}
	return cfg, nil
}

// LoadConfig reads YAML configuration from file
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{err: err}
	}
	return ParseConfig(data)
}

// Options converts configuration into client options.
// Settings are applied in lexicographical order of their names.
func (c Config) Options() ([]ClientOption, error) {
	compression, err := ParseCompression(c.Compression)
	if err != nil {
		return nil, &ConfigError{err: err}
	}

	opts := []ClientOption{WithCompression(compression)}
	if c.URL != "" {
		opts = append(opts, WithURL(c.URL))
	}
	if c.Database != "" {
		opts = append(opts, WithDatabase(c.Database))
	}
	if c.User != "" {
		opts = append(opts, WithUser(c.User))
	}
	if c.Password != "" {
		opts = append(opts, WithPassword(c.Password))
	}
	if c.Timeout < 0 {
		return nil, &ConfigError{err: fmt.Errorf("negative timeout %s", c.Timeout)}
	}
	if c.Timeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: c.Timeout}))
	}
	if c.RandomQueryIDs {
		opts = append(opts, WithRandomQueryIDs())
	}

	names := make([]string, 0, len(c.Settings))
	for name := range c.Settings {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		opts = append(opts, WithSetting(name, c.Settings[name]))
	}

	return opts, nil
}

// NewClientFromConfig constructs client from configuration.
// Additional options are applied after configuration ones.
func NewClientFromConfig(c Config, opts ...ClientOption) (*Client, error) {
	base, err := c.Options()
	if err != nil {
		return nil, err
	}
	return NewClient(append(base, opts...)...)
}
