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

// Package sink ships periodic usage gauges to an external metrics
// collector, independent of the pull-based /metrics Prometheus endpoint
// metric/ exposes for scraping.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ando-ci/ando/core"
)

// Config configures the Datadog sink.
type Config struct {
	Endpoint string
	Token    string
	Host     string
	Tags     []string
}

type payload struct {
	Series []series `json:"series"`
}

type series struct {
	Metric string    `json:"metric"`
	Points [][]int64 `json:"points"`
	Host   string    `json:"host"`
	Type   string    `json:"type"`
	Tags   []string  `json:"tags,omitempty"`
}

// Datadog periodically pushes project/build counters to the Datadog
// metrics API.
type Datadog struct {
	projects core.ProjectStore
	builds   core.BuildStore
	config   Config
	client   *http.Client
}

// New returns a Datadog sink.
func New(projects core.ProjectStore, builds core.BuildStore, config Config) *Datadog {
	return &Datadog{projects: projects, builds: builds, config: config}
}

// Start runs the sink loop until ctx is cancelled, reporting once at every
// midnight boundary the way the teacher's sink does.
func (d *Datadog) Start(ctx context.Context) error {
	for {
		select {
		case <-time.After(midnightDiff()):
			if err := d.do(ctx, time.Now().Unix()); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (d *Datadog) do(ctx context.Context, unix int64) error {
	projects, err := d.projects.List(ctx)
	if err != nil {
		return err
	}
	builds, err := d.builds.Count(ctx)
	if err != nil {
		return err
	}

	data := &payload{
		Series: []series{
			{Metric: "ando.projects", Points: [][]int64{{unix, int64(len(projects))}}, Type: "gauge", Host: d.config.Host, Tags: d.config.Tags},
			{Metric: "ando.builds", Points: [][]int64{{unix, builds}}, Type: "gauge", Host: d.config.Host, Tags: d.config.Tags},
		},
	}

	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s?api_key=%s", d.config.Endpoint, d.config.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	res, err := d.httpClient().Do(req)
	if err != nil {
		return err
	}
	res.Body.Close()
	return nil
}

func (d *Datadog) httpClient() *http.Client {
	if d.client != nil {
		return d.client
	}
	return defaultClient
}

func midnightDiff() time.Duration {
	now := time.Now()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	return next.Sub(now)
}

var defaultClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSHandshakeTimeout: 30 * time.Second,
		DisableKeepAlives:   true,
	},
	Timeout: time.Minute,
}
