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

import "github.com/hyperledger/firefly-common/pkg/fftypes"

// blacklistServer marks a server permanently unusable and unwinds every
// piece of state that referenced it: active subscriptions are terminated
// (chainHead-follow and transaction-watch subscriptions synthetically, with
// a terminal notification the client can observe; legacy subscriptions
// transparently, by re-subscribing on the client's behalf against whatever
// server picks the request up next), in-flight and queued requests are
// either answered locally, silently dropped, or re-queued server-
// agnostically, and any client left fully drained by the unwind is
// reclaimed. Idempotent: blacklisting an already-blacklisted server is a
// no-op.
func (p *Proxy) blacklistServer(id ServerID) {
	s := p.servers.get(int(id))
	if s == nil || s.isBlacklisted {
		return
	}
	s.isBlacklisted = true

	p.terminateSubscriptions(id)
	p.rerouteOrDropServerWork(id)
	p.clearStickyAssignments(id)
}

func (p *Proxy) terminateSubscriptions(serverID ServerID) {
	var affected []*subscription
	for k, sub := range p.subsByServer {
		if k.server == serverID {
			affected = append(affected, sub)
		}
	}
	for _, sub := range affected {
		switch sub.kind {
		case subscriptionChainHeadFollow:
			p.terminateChainHeadFollow(sub)
		case subscriptionTransactionWatch:
			p.terminateTransactionWatch(sub)
		case subscriptionLegacy:
			p.resubscribeLegacy(sub)
		}
	}
}

func (p *Proxy) terminateChainHeadFollow(sub *subscription) {
	delete(p.subsByServer, subServerKey{server: sub.server, id: sub.serverID})
	delete(p.subsByClient, subClientKey{client: sub.client, id: sub.clientID})
	text := buildNotification(
		"chainHead_unstable_followEvent",
		fftypes.JSONAnyPtr(`"`+sub.clientID+`"`),
		fftypes.JSONAnyPtr(`{"event":"stop"}`),
		nil,
	)
	p.enqueueNotification(sub.client, text, true, subscriptionChainHeadFollow)
}

func (p *Proxy) terminateTransactionWatch(sub *subscription) {
	delete(p.subsByServer, subServerKey{server: sub.server, id: sub.serverID})
	delete(p.subsByClient, subClientKey{client: sub.client, id: sub.clientID})
	text := buildNotification(
		"transaction_unstable_watchEvent",
		fftypes.JSONAnyPtr(`"`+sub.clientID+`"`),
		fftypes.JSONAnyPtr(`{"event":"dropped"}`),
		nil,
	)
	p.enqueueNotification(sub.client, text, true, subscriptionTransactionWatch)
}

// resubscribeLegacy is invisible to the owning client: it drops the stale
// server-side mapping and injects a synthetic re-subscribe request, using
// the original subscribe method and parameters, at the head of the
// client's agnostic queue. When it succeeds, the existing subscription
// entry (and the client-visible id the client already knows about) is
// rebound to the new server rather than replaced.
func (p *Proxy) resubscribeLegacy(sub *subscription) {
	delete(p.subsByServer, subServerKey{server: sub.server, id: sub.serverID})
	p.pushAgnosticFront(sub.client, QueuedRequest{
		method:             sub.subscribeMethod,
		paramsJSON:         sub.subscribeParams,
		category:           categoryLegacySticky,
		subKind:            subscriptionLegacy,
		isSubscribeAttempt: true,
		synthetic:          true,
		reuseSubscription:  sub,
	})
}

// rerouteOrDropServerWork unwinds every in-flight request and every
// per-(client, server) queued request that referenced serverID.
func (p *Proxy) rerouteOrDropServerWork(serverID ServerID) {
	for key, entry := range p.inFlight {
		if key.server != serverID {
			continue
		}
		delete(p.inFlight, key)
		p.settleOrphanedRequest(entry.client, entry.req)
	}

	if set := p.clientsByServer[serverID]; set != nil {
		clientIDs := make([]ClientID, 0, set.len())
		for i := 0; i < set.len(); i++ {
			clientIDs = append(clientIDs, set.at(i))
		}
		for _, clientID := range clientIDs {
			key := pairKey{client: clientID, server: serverID}
			queue := p.clientServerQueues[key]
			delete(p.clientServerQueues, key)
			for _, req := range queue {
				p.settleOrphanedRequest(clientID, req)
			}
		}
		delete(p.clientsByServer, serverID)
	}
}

// settleOrphanedRequest decides the fate of one request that was in flight
// on, or queued for, a server that just got blacklisted:
//   - a tombstoned client's request is dropped and its slots released, which
//     may complete that client's reclamation;
//   - a synthetic re-subscribe is simply retried from the top;
//   - an unsubscribe attempt is silently dropped (its subscription is
//     already gone, by definition, since its server is gone);
//   - a follow-up request referencing a chainHead-follow or
//     transaction-watch subscription is answered locally with a terminal
//     error (its subscription's own stop/dropped notification was already
//     queued by terminateSubscriptions, so this does not double-release the
//     subscription counter);
//   - everything else goes back to the head of the agnostic queue for
//     another server to pick up.
func (p *Proxy) settleOrphanedRequest(clientID ClientID, req QueuedRequest) {
	c := p.clients.get(int(clientID))
	if c == nil {
		return
	}

	if c.tombstoned {
		if !req.synthetic && c.numUnansweredRequests > 0 {
			c.numUnansweredRequests--
		}
		if req.isSubscribeAttempt {
			p.releaseSubscriptionSlot(c, req.subKind)
		}
		p.tryRemoveClient(clientID)
		return
	}

	if req.synthetic {
		p.pushAgnosticFront(clientID, req)
		return
	}

	if req.isUnsubscribeAttempt {
		if c.numUnansweredRequests > 0 {
			c.numUnansweredRequests--
		}
		return
	}

	if req.category == categoryFollowUp &&
		(req.subKind == subscriptionChainHeadFollow || req.subKind == subscriptionTransactionWatch) {
		p.enqueueTerminalResponse(clientID, buildErrorResponse(req.idJSON, errCodeInternalError, "subscription terminated: server unavailable"), false, 0)
		return
	}

	p.pushAgnosticFront(clientID, req)
}

// clearStickyAssignments releases the sticky legacy-API server assignment
// for every client pinned to serverID, so their next legacy-sticky request
// picks a fresh server.
func (p *Proxy) clearStickyAssignments(serverID ServerID) {
	p.clients.each(func(_ int, c *client) {
		if c.legacyAPIAssignedServer != nil && *c.legacyAPIAssignedServer == serverID {
			c.legacyAPIAssignedServer = nil
		}
	})
}
