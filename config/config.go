// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jiaweihh/lrpc/pkg/logging"
)

// Config is the process-wide configuration surface (spec.md §6):
// reactor thread count, the admin/name-service addresses, logging, and
// the list of client-callable services this process knows about.
type Config struct {
	ThreadNum     int             `mapstructure:"thread_num"`
	ListenAddr    string          `mapstructure:"listen_addr"`
	NameServerURL string          `mapstructure:"name_server_url"`
	WebAddr       string          `mapstructure:"web_addr"`
	LogPath       string          `mapstructure:"log_path"`
	LogLevel      string          `mapstructure:"log_level"`
	LogExpireDay  int             `mapstructure:"log_expire_day"`
	Services      []ServiceConfig `mapstructure:"services"`
}

// ServiceConfig names one client-callable remote service and how to
// reach it: either a fixed endpoint list or (when HardCodedURLs is
// empty) discovery through Config.NameServerURL.
type ServiceConfig struct {
	Name          string `mapstructure:"name"`
	HardCodedURLs string `mapstructure:"hard_coded_urls"`
	TimeoutMs     int    `mapstructure:"timeout_ms"`
}

// Load reads configuration from fileName (YAML, TOML, or JSON, by
// extension) via viper, with LRPC_-prefixed environment variables
// overriding any key (e.g. LRPC_LISTEN_ADDR overrides listen_addr).
func Load(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("LRPC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("thread_num", 4)
	v.SetDefault("listen_addr", "0.0.0.0:7890")
	v.SetDefault("web_addr", "0.0.0.0:7891")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_expire_day", 7)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config from %s", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", fileName)
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrapf(err, "config validate failed")
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, ok := logging.LevelMapperRev[strings.ToUpper(c.LogLevel)]; !ok {
		return errors.Errorf("unknown log level %s", c.LogLevel)
	}
	if c.ThreadNum < 1 {
		return errors.Errorf("thread_num must be >= 1")
	}
	if c.ListenAddr == "" {
		return errors.Errorf("listen_addr must not be empty")
	}
	return nil
}
