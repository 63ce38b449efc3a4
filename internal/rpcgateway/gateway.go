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

// Package rpcgateway hosts the reverseproxy.Proxy state machine: it owns
// every socket (one WebSocket per client, one wsclient.WSClient per backend
// server), serializes all access to the proxy behind a single mutex, and
// translates between raw bytes on the wire and the proxy's pure API.
package rpcgateway

import (
	"context"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-common/pkg/wsclient"
	"github.com/kaleido-io/jsonrpc-reverseproxy/internal/proxymsgs"
	"github.com/kaleido-io/jsonrpc-reverseproxy/internal/reverseproxy"
	"github.com/prometheus/client_golang/prometheus"
)

// Config configures a Gateway.
type Config struct {
	// ProxyConfig seeds the wrapped reverseproxy.Proxy.
	ProxyConfig reverseproxy.Config
	// ClientDefaults is applied to every client InsertClient registers,
	// one per accepted WebSocket connection.
	ClientDefaults reverseproxy.ClientConfig
	// Backends are the WebSocket JSON-RPC endpoints dialed on startup, one
	// backend server per entry.
	Backends []wsclient.WSConfig
	// HealthCheckMethod is issued to each backend immediately after
	// connecting; a backend that errors or disconnects before answering is
	// never registered with the proxy.
	HealthCheckMethod string
}

// Gateway is the I/O-owning host for a reverseproxy.Proxy: it is the only
// part of this module that touches a network socket.
type Gateway struct {
	ctx    context.Context
	config Config

	mu      sync.Mutex
	proxy   *reverseproxy.Proxy
	clients map[reverseproxy.ClientID]*clientConn
	servers map[reverseproxy.ServerID]*backendConn

	registry *prometheus.Registry
	metrics  *metrics
}

// NewGateway dials every configured backend and returns a Gateway ready to
// accept client connections via ServeWS. A backend that fails its initial
// health check is logged and skipped rather than failing startup outright:
// the multiplexer is designed to route around missing servers, including
// the case where every server is currently down.
func NewGateway(ctx context.Context, cfg Config) (*Gateway, error) {
	registry := prometheus.NewRegistry()
	g := &Gateway{
		ctx:      ctx,
		config:   cfg,
		proxy:    reverseproxy.New(cfg.ProxyConfig),
		clients:  make(map[reverseproxy.ClientID]*clientConn),
		servers:  make(map[reverseproxy.ServerID]*backendConn),
		registry: registry,
		metrics:  newMetrics(registry),
	}
	if len(cfg.Backends) == 0 {
		return nil, i18n.NewError(ctx, proxymsgs.MsgNoBackendsConfigured)
	}
	for i := range cfg.Backends {
		if err := g.addBackend(ctx, &cfg.Backends[i]); err != nil {
			log.L(ctx).Errorf("backend %d unavailable at startup: %s", i, err)
		}
	}
	return g, nil
}

// Close tears down every backend connection. Client connections close
// themselves when their read pump exits.
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, bc := range g.servers {
		bc.ws.Close()
	}
}

// drainLocked must be called with mu held after any mutation of the proxy.
// It empties every client's response queue onto its WebSocket and hands
// every idle backend as much freshly-routable work as it can take, which
// is how a single event (one client request, one backend response, one
// disconnect) propagates out to every connection it affects - a
// client-agnostic request dispatched to server A, a blacklist's synthetic
// notifications delivered to a dozen different clients, and so on.
func (g *Gateway) drainLocked() {
	for _, cc := range g.clients {
		for {
			b, ok := g.proxy.NextClientResponse(cc.id)
			if !ok {
				break
			}
			cc.enqueue(b)
		}
	}
	for _, bc := range g.servers {
		for {
			b, ok := g.proxy.NextProxiedRequest(bc.id)
			if !ok {
				break
			}
			if err := bc.ws.Send(g.ctx, b); err != nil {
				log.L(g.ctx).Errorf("failed to forward request to backend: %s", err)
			}
		}
	}
}
