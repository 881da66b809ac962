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

// Package webhook implements core.WebhookSender: outbound, HMAC-signed
// notifications of build lifecycle events to project-configured endpoints.
// This is distinct from the inbound forge webhook handled by trigger/.
package webhook

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/99designs/httpsignatures-go"

	"github.com/ando-ci/ando/core"
)

var requiredHeaders = []string{"date", "digest"}

var signer = httpsignatures.NewSigner(
	httpsignatures.AlgorithmHmacSha256,
	requiredHeaders...,
)

// New returns a core.WebhookSender that signs every outbound delivery with
// secret via the HTTP Signatures scheme.
func New(secret string) core.WebhookSender {
	return &sender{secret: secret, client: http.DefaultClient}
}

type sender struct {
	client *http.Client
	secret string
}

// Send POSTs payload, JSON-encoded, to every endpoint. It stops and
// returns the first delivery error; the caller (trigger.Trigger) treats
// that as non-fatal and only logs it.
func (s *sender) Send(ctx context.Context, endpoints []string, event string, payload interface{}) error {
	if len(endpoints) == 0 {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	for _, endpoint := range endpoints {
		if err := s.deliver(ctx, endpoint, event, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *sender) deliver(ctx context.Context, endpoint, event string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("X-Ando-Event", event)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Digest", "SHA-256="+digest(data))
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	if err := signer.SignRequest("hmac-key", s.secret, req); err != nil {
		return err
	}

	res, err := s.client.Do(req)
	if res != nil {
		res.Body.Close()
	}
	return err
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return base64.StdEncoding.EncodeToString(sum[:])
}
