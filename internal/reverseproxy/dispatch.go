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

package reverseproxy

import (
	"encoding/hex"

	"github.com/hyperledger/firefly-common/pkg/fftypes"
)

// NextProxiedRequest picks the next request to hand to an idle server,
// mints it a fresh request id in that server's own id-space, and returns
// the JSON-RPC text to send. Returns ok=false if the server is blacklisted,
// unknown, or has nothing to do.
//
// Candidates are drawn from two pools: clients with a server-agnostic
// request pending (pool A, shared by every server) and clients with a
// request specifically queued for this server (pool B, populated by
// legacy-sticky traffic once a client's sticky server is fixed, and by
// chainHead follow-ups routed to the server owning their subscription).
// Pool B is weighted by W = 1 + floor(max(0, |clients|-1) / numServers),
// computed from the total registered client count, so that as total system
// load grows relative to the server pool, a client stuck sticky on a busy
// server is protected from being starved by agnostic-pool traffic that any
// other idle server could just as well have picked up.
func (p *Proxy) NextProxiedRequest(serverID ServerID) ([]byte, bool) {
	s := p.servers.get(int(serverID))
	if s == nil || s.isBlacklisted {
		return nil, false
	}

	for {
		agnosticLen := p.clientsWithServerAgnosticRequest.len()
		set := p.clientsByServer[serverID]
		specificLen := 0
		if set != nil {
			specificLen = set.len()
		}
		if agnosticLen == 0 && specificLen == 0 {
			return nil, false
		}

		numServers := p.servers.len()
		if numServers < 1 {
			numServers = 1
		}
		extra := p.clients.len() - 1
		if extra < 0 {
			extra = 0
		}
		weight := 1 + extra/numServers

		total := agnosticLen + specificLen*weight
		idx := p.rng.Intn(total)

		var (
			clientID     ClientID
			fromAgnostic bool
		)
		if idx < agnosticLen {
			clientID = p.clientsWithServerAgnosticRequest.at(idx)
			fromAgnostic = true
		} else {
			clientID = set.at((idx - agnosticLen) / weight)
		}

		c := p.clients.get(int(clientID))
		if c == nil {
			// Stale membership left behind by a removal path; drop it and
			// pick again.
			if fromAgnostic {
				p.clientsWithServerAgnosticRequest.remove(clientID)
			} else {
				set.remove(clientID)
			}
			continue
		}

		var req QueuedRequest
		if fromAgnostic {
			req = c.serverAgnosticRequestsQueue[0]
			c.serverAgnosticRequestsQueue = c.serverAgnosticRequestsQueue[1:]
			if len(c.serverAgnosticRequestsQueue) == 0 {
				p.clientsWithServerAgnosticRequest.remove(clientID)
			}
		} else {
			key := pairKey{client: clientID, server: serverID}
			q := p.clientServerQueues[key]
			req = q[0]
			q = q[1:]
			if len(q) == 0 {
				delete(p.clientServerQueues, key)
				set.remove(clientID)
			} else {
				p.clientServerQueues[key] = q
			}
		}

		if req.category == categoryLegacySticky {
			if c.legacyAPIAssignedServer == nil {
				srv := serverID
				c.legacyAPIAssignedServer = &srv
			} else if *c.legacyAPIAssignedServer != serverID {
				// The client's sticky server was fixed by another request
				// dispatched between this one being enqueued and now; send
				// it where it actually belongs instead.
				p.pushServerSpecificFront(clientID, *c.legacyAPIAssignedServer, req)
				continue
			}
		}

		return p.dispatch(clientID, serverID, req), true
	}
}

// dispatch mints a fresh, server-scoped request id, records the in-flight
// entry InsertProxiedResponse will later look up, and serializes the
// outgoing request.
func (p *Proxy) dispatch(clientID ClientID, serverID ServerID, req QueuedRequest) []byte {
	freshID := p.mintServerRequestID(serverID)
	p.inFlight[inFlightKey{server: serverID, id: freshID}] = inFlightEntry{client: clientID, req: req}
	return buildRequest(fftypes.JSONAnyPtr(`"`+freshID+`"`), req.method, req.paramsJSON)
}

// mintServerRequestID returns a fresh hex-encoded 96-bit id not currently
// in flight for serverID, matching the entropy budget (and hex rendering)
// used for subscription ids minted by mintSubscriptionID.
func (p *Proxy) mintServerRequestID(serverID ServerID) string {
	for {
		var buf [12]byte
		_, _ = p.rng.Read(buf[:])
		id := hex.EncodeToString(buf[:])
		if _, exists := p.inFlight[inFlightKey{server: serverID, id: id}]; !exists {
			return id
		}
	}
}

// mintSubscriptionID returns a fresh hex-encoded 96-bit client-visible
// subscription id not currently used by client.
func (p *Proxy) mintSubscriptionID(clientID ClientID) string {
	for {
		var buf [12]byte
		_, _ = p.rng.Read(buf[:])
		id := hex.EncodeToString(buf[:])
		if _, exists := p.subsByClient[subClientKey{client: clientID, id: id}]; !exists {
			return id
		}
	}
}
