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

import "math/rand"

// Proxy is the reverse-proxy multiplexer state machine. It is not safe for
// concurrent use: every exported method is assumed to run under exclusive
// access, serialized by the embedding host (see internal/rpcgateway, which
// wraps every call in a single mutex).
type Proxy struct {
	clients *slab[client]
	servers *slab[server]

	clientsWithServerAgnosticRequest *clientSet

	// clientServerQueues holds per-(client, server) request queues. A key
	// is only present while its queue is non-empty, matching the
	// invariant that per-(client, server) queues are destroyed as soon as
	// they're drained.
	clientServerQueues map[pairKey][]QueuedRequest

	// clientsByServer indexes clientServerQueues by server, so
	// NextProxiedRequest can enumerate the clients with a non-empty queue
	// for a given server without a full scan.
	clientsByServer map[ServerID]*clientSet

	inFlight map[inFlightKey]inFlightEntry

	subsByServer map[subServerKey]*subscription
	subsByClient map[subClientKey]*subscription

	rng *rand.Rand
}

// New creates an empty Proxy.
func New(cfg Config) *Proxy {
	return &Proxy{
		clients:                          newSlab[client](),
		servers:                          newSlab[server](),
		clientsWithServerAgnosticRequest: newClientSet(),
		clientServerQueues:               make(map[pairKey][]QueuedRequest),
		clientsByServer:                  make(map[ServerID]*clientSet),
		inFlight:                         make(map[inFlightKey]inFlightEntry),
		subsByServer:                     make(map[subServerKey]*subscription),
		subsByClient:                     make(map[subClientKey]*subscription),
		rng:                              newRand(cfg.RandomSeed),
	}
}

// InsertClient registers a new client and returns its handle.
func (p *Proxy) InsertClient(cfg ClientConfig) ClientID {
	maxChainHeadFollow := cfg.MaxChainHeadFollowSubscriptions
	if maxChainHeadFollow < 2 {
		// The JSON-RPC specification requires at least 2 concurrent
		// chainHead_unstable_follow subscriptions per client.
		maxChainHeadFollow = 2
	}
	id := p.clients.insert(client{
		maxUnansweredRequests:           cfg.MaxUnansweredParallelRequests,
		maxLegacyAPISubscriptions:       cfg.MaxLegacyAPISubscriptions,
		maxChainHeadFollowSubscriptions: maxChainHeadFollow,
		maxTransactionsSubscriptions:    cfg.MaxTransactionsSubscriptions,
		userData:                        cfg.UserData,
	})
	return ClientID(id)
}

// InsertServer registers a new server and returns its handle.
func (p *Proxy) InsertServer(userData interface{}) ServerID {
	id := p.servers.insert(server{userData: userData})
	return ServerID(id)
}

// ClientData returns the opaque user data associated with a client.
func (p *Proxy) ClientData(id ClientID) interface{} {
	c := p.clients.get(int(id))
	if c == nil {
		return nil
	}
	return c.userData
}

// ServerData returns the opaque user data associated with a server.
func (p *Proxy) ServerData(id ServerID) interface{} {
	s := p.servers.get(int(id))
	if s == nil {
		return nil
	}
	return s.userData
}

// IsBlacklisted reports whether the given server has been blacklisted.
func (p *Proxy) IsBlacklisted(id ServerID) bool {
	s := p.servers.get(int(id))
	return s == nil || s.isBlacklisted
}

// RemoveClient tombstones a client. The handle is invalid for any future
// call from the API's perspective, but in-flight requests and active
// subscriptions referencing it continue to drain silently as responses
// arrive, and the client's slot is only fully reclaimed once that drain
// completes. Calling NextProxiedRequest for every currently-idle server is
// recommended afterwards, since this may unblock requests that had been
// queued behind this client server-agnostically.
func (p *Proxy) RemoveClient(id ClientID) interface{} {
	c := p.clients.get(int(id))
	if c == nil || c.tombstoned {
		return nil
	}
	userData := c.userData
	c.userData = nil
	c.tombstoned = true

	// Queued requests are discarded here, so the unanswered-request slots
	// they hold are released now; nothing else would ever release them.
	releaseQueued := func(queue []QueuedRequest) {
		for _, req := range queue {
			if !req.synthetic && c.numUnansweredRequests > 0 {
				c.numUnansweredRequests--
			}
		}
	}

	if len(c.serverAgnosticRequestsQueue) > 0 {
		releaseQueued(c.serverAgnosticRequestsQueue)
		p.clientsWithServerAgnosticRequest.remove(id)
		c.serverAgnosticRequestsQueue = nil
	}

	for srv, set := range p.clientsByServer {
		if set.contains(id) {
			key := pairKey{client: id, server: srv}
			releaseQueued(p.clientServerQueues[key])
			delete(p.clientServerQueues, key)
			set.remove(id)
		}
	}

	p.tryRemoveClient(id)
	return userData
}

// RemoveServer blacklists the server (cascading per blacklistServer) and
// then permanently removes its slot. Calling RemoveServer on an
// already-blacklisted server other than through this path first is fine;
// blacklisting is idempotent.
func (p *Proxy) RemoveServer(id ServerID) interface{} {
	p.blacklistServer(id)
	s := p.servers.get(int(id))
	if s == nil {
		return nil
	}
	userData := s.userData
	p.servers.remove(int(id))
	delete(p.clientsByServer, id)
	return userData
}

// tryRemoveClient reclaims a tombstoned client's slot once it has no
// in-flight requests, no pending server-specific queues, and no active
// subscriptions left - the three conditions spec.md requires to hold
// simultaneously before the slot can disappear.
func (p *Proxy) tryRemoveClient(id ClientID) {
	c := p.clients.get(int(id))
	if c == nil || !c.tombstoned {
		return
	}
	if c.numUnansweredRequests != 0 {
		return
	}
	for srv, set := range p.clientsByServer {
		if set.contains(id) {
			_ = srv
			return
		}
	}
	for k := range p.subsByClient {
		if k.client == id {
			return
		}
	}
	p.clients.remove(int(id))
}

func (p *Proxy) serverSet(id ServerID) *clientSet {
	set, ok := p.clientsByServer[id]
	if !ok {
		set = newClientSet()
		p.clientsByServer[id] = set
	}
	return set
}

func (p *Proxy) pushServerSpecific(clientID ClientID, serverID ServerID, req QueuedRequest) {
	key := pairKey{client: clientID, server: serverID}
	p.clientServerQueues[key] = append(p.clientServerQueues[key], req)
	p.serverSet(serverID).add(clientID)
}

func (p *Proxy) pushServerSpecificFront(clientID ClientID, serverID ServerID, req QueuedRequest) {
	key := pairKey{client: clientID, server: serverID}
	p.clientServerQueues[key] = append([]QueuedRequest{req}, p.clientServerQueues[key]...)
	p.serverSet(serverID).add(clientID)
}

func (p *Proxy) pushAgnostic(id ClientID, req QueuedRequest) {
	c := p.clients.get(int(id))
	c.serverAgnosticRequestsQueue = append(c.serverAgnosticRequestsQueue, req)
	p.clientsWithServerAgnosticRequest.add(id)
}

func (p *Proxy) pushAgnosticFront(id ClientID, req QueuedRequest) {
	c := p.clients.get(int(id))
	c.serverAgnosticRequestsQueue = append([]QueuedRequest{req}, c.serverAgnosticRequestsQueue...)
	p.clientsWithServerAgnosticRequest.add(id)
}

// enqueueTerminalResponse queues a response that answers (and frees the
// unanswered-request slot of) a request the client is waiting on - a local
// answer, a proxied response, or a locally-synthesized error/null/false
// fallback. subDecrement/subKind optionally release a subscription counter
// unit at the moment the client dequeues this response (a failed subscribe
// attempt, or a successful unsubscribe).
func (p *Proxy) enqueueTerminalResponse(id ClientID, text []byte, subDecrement bool, subKind subscriptionKind) {
	c := p.clients.get(int(id))
	if c == nil {
		return
	}
	c.jsonRPCResponsesQueue = append(c.jsonRPCResponsesQueue, queuedResponse{
		text:                text,
		decrementUnanswered: true,
		decrementSub:        subDecrement,
		subKind:             subKind,
	})
}

// enqueueNotification queues a subscription notification, which never
// counted against numUnansweredRequests. subDecrement is true only for
// synthetic terminal events (stop/dropped), which release the
// subscription's counter unit once delivered.
func (p *Proxy) enqueueNotification(id ClientID, text []byte, subDecrement bool, subKind subscriptionKind) {
	c := p.clients.get(int(id))
	if c == nil {
		return
	}
	c.jsonRPCResponsesQueue = append(c.jsonRPCResponsesQueue, queuedResponse{
		text:         text,
		decrementSub: subDecrement,
		subKind:      subKind,
	})
}
