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
	"testing"

	"github.com/kaleido-io/jsonrpc-reverseproxy/internal/reverseproxy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

// fakeWS is a minimal stand-in for wsclient.WSClient, letting tests drive
// backendConn/clientConn plumbing without a real network dial.
type fakeWS struct {
	sent chan []byte
	recv chan []byte
}

func newFakeWS() *fakeWS {
	return &fakeWS{sent: make(chan []byte, 16), recv: make(chan []byte, 16)}
}

func (f *fakeWS) Connect() error                          { return nil }
func (f *fakeWS) Send(ctx context.Context, b []byte) error { f.sent <- b; return nil }
func (f *fakeWS) Receive() <-chan []byte                  { return f.recv }
func (f *fakeWS) Close()                                  { close(f.recv) }

// newTestGateway builds a Gateway with one backend already registered,
// bypassing NewGateway's real dial-and-health-check path.
func newTestGateway() (*Gateway, *fakeWS, reverseproxy.ServerID) {
	registry := prometheus.NewRegistry()
	g := &Gateway{
		config:   Config{HealthCheckMethod: "system_health"},
		proxy:    reverseproxy.New(reverseproxy.Config{RandomSeed: 7}),
		clients:  make(map[reverseproxy.ClientID]*clientConn),
		servers:  make(map[reverseproxy.ServerID]*backendConn),
		registry: registry,
		metrics:  newMetrics(registry),
	}
	ws := newFakeWS()
	serverID := g.proxy.InsertServer(nil)
	g.servers[serverID] = &backendConn{id: serverID, ws: ws}
	return g, ws, serverID
}

func TestNewGatewayRequiresAtLeastOneBackend(t *testing.T) {
	_, err := NewGateway(context.Background(), Config{})
	assert.Error(t, err)
	assert.Regexp(t, "FF23", err)
}

func TestDrainLockedForwardsRequestToBackend(t *testing.T) {
	g, ws, _ := newTestGateway()

	cc := &clientConn{outbox: make(chan []byte, 4)}
	cc.id = g.proxy.InsertClient(reverseproxy.ClientConfig{MaxUnansweredParallelRequests: 4})
	g.clients[cc.id] = cc

	assert.NoError(t, g.proxy.InsertClientRequest(cc.id, []byte(`{"jsonrpc":"2.0","id":1,"method":"chainSpec_v1_chainName"}`)))
	g.drainLocked()

	select {
	case b := <-ws.sent:
		var fwd struct {
			Method string `json:"method"`
		}
		assert.NoError(t, json.Unmarshal(b, &fwd))
		assert.Equal(t, "chainSpec_v1_chainName", fwd.Method)
	default:
		t.Fatal("expected the request to reach the backend")
	}
}

func TestDrainLockedDeliversResponseToClientOutbox(t *testing.T) {
	g, _, _ := newTestGateway()

	cc := &clientConn{outbox: make(chan []byte, 4)}
	cc.id = g.proxy.InsertClient(reverseproxy.ClientConfig{MaxUnansweredParallelRequests: 4})
	g.clients[cc.id] = cc

	assert.NoError(t, g.proxy.InsertClientRequest(cc.id, []byte(`{"jsonrpc":"2.0","id":1,"method":"system_name"}`)))
	g.drainLocked()

	select {
	case b := <-cc.outbox:
		var res struct {
			Result string `json:"result"`
		}
		assert.NoError(t, json.Unmarshal(b, &res))
	default:
		t.Fatal("expected a local answer in the client outbox")
	}
}

func TestHandleBackendDisconnectBlacklistsAndDeregisters(t *testing.T) {
	g, _, serverID := newTestGateway()
	bc := g.servers[serverID]

	g.handleBackendDisconnect(bc)

	assert.True(t, g.proxy.IsBlacklisted(serverID))
	_, stillRegistered := g.servers[serverID]
	assert.False(t, stillRegistered)
}
