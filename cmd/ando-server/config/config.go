// Copyright 2019 Drone IO, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the controller's environment-driven configuration,
// mirroring the teacher's cmd/drone-server/config layout.
package config

import (
	"time"

	"github.com/imdario/mergo"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration struct, populated from the process
// environment with the ANDO_ prefix.
type Config struct {
	Server struct {
		Addr string `envconfig:"SERVER_ADDR" default:":3000"`
		Host string `envconfig:"SERVER_HOST" default:"localhost:3000"`
		Proto string `envconfig:"SERVER_PROTO" default:"http"`
	}

	Database struct {
		Driver     string `envconfig:"DATABASE_DRIVER" default:"sqlite3"`
		Datasource string `envconfig:"DATABASE_DATASOURCE" default:"ando.sqlite"`
	}

	Forge struct {
		AppID      int64  `envconfig:"FORGE_APP_ID"`
		PrivateKey string `envconfig:"FORGE_PRIVATE_KEY_PATH"`
		BaseURL    string `envconfig:"FORGE_BASE_URL"`
		CACertFile string `envconfig:"FORGE_CA_CERT_FILE"`
	}

	Vault struct {
		Key        string `envconfig:"VAULT_KEY"`
		Passphrase string `envconfig:"VAULT_PASSPHRASE"`
		Salt       string `envconfig:"VAULT_SALT" default:"ando-vault"`
	}

	Session struct {
		Secret  string        `envconfig:"SESSION_SECRET"`
		Timeout time.Duration `envconfig:"SESSION_TIMEOUT" default:"720h"`
	}

	Docker struct {
		Host       string `envconfig:"DOCKER_HOST"`
		Network    string `envconfig:"DOCKER_NETWORK" default:"bridge"`
		ArtifactDir string `envconfig:"ARTIFACT_DIR" default:"/var/lib/ando/artifacts"`
	}

	Retention struct {
		LogDays      int    `envconfig:"LOG_RETENTION_DAYS" default:"90"`
		ArtifactDays int    `envconfig:"ARTIFACT_RETENTION_DAYS" default:"30"`
		SweepCron    string `envconfig:"SWEEP_CRON" default:"0 15 * * * *"`
	}

	Datadog struct {
		Enabled  bool   `envconfig:"DATADOG_ENABLED" default:"false"`
		Endpoint string `envconfig:"DATADOG_ENDPOINT" default:"https://api.datadoghq.com/api/v1/series"`
		Token    string `envconfig:"DATADOG_TOKEN"`
	}

	Orchestrator struct {
		WorkerCount    int           `envconfig:"WORKER_COUNT" default:"4"`
		DefaultTimeout time.Duration `envconfig:"DEFAULT_BUILD_TIMEOUT" default:"15m"`
	}

	Webhook struct {
		Secret string `envconfig:"WEBHOOK_SECRET"`
	}

	Artifact struct {
		S3Bucket string `envconfig:"ARTIFACTS_S3_BUCKET"`
		S3Region string `envconfig:"ARTIFACTS_S3_REGION" default:"us-east-1"`
		S3Prefix string `envconfig:"ARTIFACTS_S3_PREFIX"`
	}

	Checkout struct {
		RootDir string `envconfig:"CHECKOUT_ROOT_DIR" default:"/var/lib/ando/checkout"`
		GitHost string `envconfig:"GIT_HOST"`
	}

	Container struct {
		RegistryDir string `envconfig:"CONTAINER_REGISTRY_DIR" default:"/var/lib/ando/containers"`
	}

	CORS struct {
		AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	}
}

// Load reads .env (if present, development convenience) then the process
// environment into a Config, applying field defaults via mergo for any
// zero-valued fields envconfig itself did not default.
func Load() (Config, error) {
	_ = godotenv.Load() // optional: absent in production is not an error

	var cfg Config
	if err := envconfig.Process("ando", &cfg); err != nil {
		return Config{}, err
	}

	var defaults Config
	if err := envconfig.Process("ando", &defaults); err != nil {
		return Config{}, err
	}
	if err := mergo.Merge(&cfg, defaults); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
