// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
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

package rpcgateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are the gateway-level counters that sit alongside the HTTP
// request/latency metrics mux-prometheus's middleware already produces per
// route - these track what's specific to the multiplexer itself.
type metrics struct {
	clientsConnected  prometheus.Gauge
	backendsConnected prometheus.Gauge
	requestsAccepted  prometheus.Counter
	quotaRejections   prometheus.Counter
	blacklistEvents   prometheus.Counter
}

// newMetrics registers the gateway's counters against reg rather than the
// global prometheus.DefaultRegisterer, so every Gateway owns an independent
// metrics namespace - needed both to let more than one Gateway run in the
// same process and to let tests build a fresh Gateway repeatedly without
// tripping "duplicate metrics collector registration attempted".
func newMetrics(reg *prometheus.Registry) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		clientsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "jsonrpc_reverseproxy",
			Name:      "clients_connected",
			Help:      "Number of client WebSocket connections currently registered with the proxy.",
		}),
		backendsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "jsonrpc_reverseproxy",
			Name:      "backends_connected",
			Help:      "Number of backend servers currently registered with the proxy (excludes blacklisted servers once removed).",
		}),
		requestsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "jsonrpc_reverseproxy",
			Name:      "requests_accepted_total",
			Help:      "Total client requests accepted by InsertClientRequest.",
		}),
		quotaRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "jsonrpc_reverseproxy",
			Name:      "quota_rejections_total",
			Help:      "Total client requests rejected for exceeding a quota or referencing an unknown client.",
		}),
		blacklistEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "jsonrpc_reverseproxy",
			Name:      "backend_blacklist_total",
			Help:      "Total number of times a backend server was blacklisted for misbehaving.",
		}),
	}
}
