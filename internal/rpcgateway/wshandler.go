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
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/kaleido-io/jsonrpc-reverseproxy/internal/reverseproxy"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// clientConn pairs a registered reverseproxy client handle with the
// WebSocket connection used to reach it, plus the outbox channel that
// decouples drainLocked (running under the gateway mutex) from the
// blocking network write.
type clientConn struct {
	id     reverseproxy.ClientID
	conn   *websocket.Conn
	outbox chan []byte
}

func (cc *clientConn) enqueue(b []byte) {
	select {
	case cc.outbox <- b:
	default:
		// A client too slow to keep its outbox drained has its connection
		// closed, which ends its read pump and unregisters it, rather than
		// letting this call block the gateway mutex for every other client
		// and backend.
		if cc.conn != nil {
			_ = cc.conn.Close()
		}
	}
}

// ServeWS upgrades an HTTP request to a WebSocket connection, registers a
// new client with the proxy, and runs that client's read pump until the
// connection closes.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.L(r.Context()).Errorf("WebSocket upgrade failed: %s", err)
		return
	}

	cc := &clientConn{conn: conn, outbox: make(chan []byte, 256)}

	g.mu.Lock()
	cc.id = g.proxy.InsertClient(g.config.ClientDefaults)
	g.clients[cc.id] = cc
	g.metrics.clientsConnected.Inc()
	g.mu.Unlock()

	done := make(chan struct{})
	go g.clientWritePump(cc, done)
	g.clientReadPump(cc)
	close(done)

	g.mu.Lock()
	g.proxy.RemoveClient(cc.id)
	delete(g.clients, cc.id)
	g.metrics.clientsConnected.Dec()
	g.drainLocked()
	g.mu.Unlock()

	_ = conn.Close()
}

func (g *Gateway) clientReadPump(cc *clientConn) {
	for {
		_, msg, err := cc.conn.ReadMessage()
		if err != nil {
			return
		}

		g.mu.Lock()
		if err := g.proxy.InsertClientRequest(cc.id, msg); err != nil {
			g.metrics.quotaRejections.Inc()
		} else {
			g.metrics.requestsAccepted.Inc()
		}
		g.drainLocked()
		g.mu.Unlock()
	}
}

func (g *Gateway) clientWritePump(cc *clientConn, done chan struct{}) {
	for {
		select {
		case b := <-cc.outbox:
			if err := cc.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				_ = cc.conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}
