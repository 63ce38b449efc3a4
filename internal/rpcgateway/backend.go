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
	"context"
	"encoding/json"
	"time"

	"github.com/hyperledger/firefly-common/pkg/fftypes"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/hyperledger/firefly-common/pkg/wsclient"
	"github.com/kaleido-io/jsonrpc-reverseproxy/internal/proxymsgs"
	"github.com/kaleido-io/jsonrpc-reverseproxy/internal/reverseproxy"
)

const healthCheckTimeout = 10 * time.Second

// backendConn pairs a registered reverseproxy server handle with the
// WebSocket connection used to actually reach it.
type backendConn struct {
	id reverseproxy.ServerID
	ws wsclient.WSClient
}

type healthCheckRequest struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *fftypes.JSONAny `json:"id"`
	Method  string           `json:"method"`
}

type healthCheckResponse struct {
	ID    *fftypes.JSONAny `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// addBackend connects to a single backend, proves it's answering JSON-RPC
// with a health-check call, registers it with the proxy, and starts the
// goroutine that feeds its inbound traffic back into the state machine.
func (g *Gateway) addBackend(ctx context.Context, wsConf *wsclient.WSConfig) error {
	ws, err := wsclient.New(ctx, wsConf, nil, nil)
	if err != nil {
		return i18n.WrapError(ctx, err, proxymsgs.MsgBackendDialFailed, wsConf.HTTPURL)
	}
	if err := ws.Connect(); err != nil {
		return i18n.WrapError(ctx, err, proxymsgs.MsgBackendDialFailed, wsConf.HTTPURL)
	}

	if err := g.healthCheck(ctx, ws); err != nil {
		ws.Close()
		return i18n.WrapError(ctx, err, proxymsgs.MsgHealthCheckFailed, wsConf.HTTPURL, err)
	}

	g.mu.Lock()
	serverID := g.proxy.InsertServer(wsConf.HTTPURL)
	bc := &backendConn{id: serverID, ws: ws}
	g.servers[serverID] = bc
	g.metrics.backendsConnected.Inc()
	g.drainLocked()
	g.mu.Unlock()

	go g.backendReceivePump(ctx, bc)
	return nil
}

// healthCheck sends the configured health-check method directly (bypassing
// the proxy entirely - no client or subscription state exists yet) and
// waits for any reply before trusting the backend with real traffic.
func (g *Gateway) healthCheck(ctx context.Context, ws wsclient.WSClient) error {
	req := healthCheckRequest{JSONRPC: "2.0", ID: fftypes.JSONAnyPtr(`"healthcheck"`), Method: g.config.HealthCheckMethod}
	b, _ := json.Marshal(req)
	if err := ws.Send(ctx, b); err != nil {
		return err
	}
	select {
	case msg, ok := <-ws.Receive():
		if !ok {
			return i18n.NewError(ctx, proxymsgs.MsgHealthCheckFailed, "", "connection closed")
		}
		var res healthCheckResponse
		if err := json.Unmarshal(msg, &res); err != nil {
			return err
		}
		if res.Error != nil {
			return i18n.NewError(ctx, proxymsgs.MsgHealthCheckFailed, "", res.Error.Message)
		}
		return nil
	case <-time.After(healthCheckTimeout):
		return i18n.NewError(ctx, proxymsgs.MsgHealthCheckFailed, "", "timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backendReceivePump feeds every message the backend sends, after the
// health check, into InsertProxiedResponse, and drains whatever that
// unblocks.
func (g *Gateway) backendReceivePump(ctx context.Context, bc *backendConn) {
	for {
		msg, ok := <-bc.ws.Receive()
		if !ok {
			g.handleBackendDisconnect(bc)
			return
		}
		g.mu.Lock()
		outcome, _, err := g.proxy.InsertProxiedResponse(bc.id, msg)
		if err != nil {
			log.L(ctx).Errorf("backend message rejected: %s", err)
		}
		if outcome == reverseproxy.ProxiedResponseBlacklisted {
			g.metrics.blacklistEvents.Inc()
			log.L(ctx).Warnf("backend blacklisted after misbehaving")
		}
		g.drainLocked()
		g.mu.Unlock()
	}
}

// handleBackendDisconnect blacklists and unregisters a backend whose
// connection dropped, which cascades through every subscription and
// in-flight request it was carrying exactly as a misbehaving backend would.
func (g *Gateway) handleBackendDisconnect(bc *backendConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.proxy.RemoveServer(bc.id)
	delete(g.servers, bc.id)
	g.metrics.backendsConnected.Dec()
	g.drainLocked()
}
