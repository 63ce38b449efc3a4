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

// InsertProxiedResponse feeds one piece of raw JSON-RPC text received from
// server id back into the state machine - either a response to a request
// previously handed out by NextProxiedRequest, or an unprompted
// subscription notification. A server that sends something this proxy
// can't make sense of (unparseable text, an answer to an id it never
// handed out, or an -32603/-32700 error code) is blacklisted on the spot:
// a single misbehaving server is assumed to be unreliable across the
// board, not just for the one request that exposed it.
func (p *Proxy) InsertProxiedResponse(id ServerID, text []byte) (ProxiedResponseOutcome, ClientID, error) {
	s := p.servers.get(int(id))
	if s == nil {
		return ProxiedResponseDiscarded, 0, ErrUnknownServer
	}
	if s.isBlacklisted {
		return ProxiedResponseDiscarded, 0, nil
	}

	msg, perr := parseServerMessage(text)
	if perr != nil {
		p.blacklistServer(id)
		return ProxiedResponseBlacklisted, 0, nil
	}

	switch msg.kind {
	case serverMessageResponse:
		return p.ingestResponse(id, msg)
	case serverMessageNotification:
		return p.ingestNotification(id, msg)
	default:
		p.blacklistServer(id)
		return ProxiedResponseBlacklisted, 0, nil
	}
}

func (p *Proxy) ingestResponse(serverID ServerID, msg *serverMessage) (ProxiedResponseOutcome, ClientID, error) {
	key := inFlightKey{server: serverID, id: rawString(msg.id)}
	entry, ok := p.inFlight[key]
	if !ok {
		p.blacklistServer(serverID)
		return ProxiedResponseBlacklisted, 0, nil
	}
	if msg.err != nil && (msg.err.Code == errCodeInternalError || msg.err.Code == errCodeParseError) {
		// The entry is still in flight here, so the blacklist cascade
		// settles this request along with every other one on the server.
		p.blacklistServer(serverID)
		return ProxiedResponseBlacklisted, entry.client, nil
	}
	delete(p.inFlight, key)

	req := entry.req
	c := p.clients.get(int(entry.client))

	if c == nil || c.tombstoned {
		if c != nil {
			if !req.synthetic && c.numUnansweredRequests > 0 {
				c.numUnansweredRequests--
			}
			if req.isSubscribeAttempt {
				p.releaseSubscriptionSlot(c, req.subKind)
			}
			p.tryRemoveClient(entry.client)
		}
		return ProxiedResponseDiscarded, entry.client, nil
	}

	if req.synthetic {
		p.resolveSyntheticResubscribe(serverID, c, entry.client, req, msg)
		return ProxiedResponseDelivered, entry.client, nil
	}

	if msg.err != nil {
		p.enqueueTerminalResponse(entry.client, buildErrorResponse(req.idJSON, msg.err.Code, msg.err.Message), req.isSubscribeAttempt, req.subKind)
		return ProxiedResponseDelivered, entry.client, nil
	}

	switch {
	case req.isSubscribeAttempt:
		clientSubID := p.mintSubscriptionID(entry.client)
		sub := &subscription{kind: req.subKind, client: entry.client, clientID: clientSubID, server: serverID, serverID: rawString(msg.result)}
		if req.subKind == subscriptionLegacy {
			sub.subscribeMethod = req.method
			sub.subscribeParams = req.paramsJSON
		}
		p.subsByClient[subClientKey{client: entry.client, id: clientSubID}] = sub
		p.subsByServer[subServerKey{server: serverID, id: sub.serverID}] = sub
		p.enqueueTerminalResponse(entry.client, buildSuccessResponse(req.idJSON, fftypes.JSONAnyPtr(`"`+clientSubID+`"`)), false, 0)

	case req.isUnsubscribeAttempt:
		subKey := subClientKey{client: entry.client, id: req.clientSubscriptionID}
		if sub, ok := p.subsByClient[subKey]; ok {
			delete(p.subsByClient, subKey)
			delete(p.subsByServer, subServerKey{server: sub.server, id: sub.serverID})
		}
		p.enqueueTerminalResponse(entry.client, buildSuccessResponse(req.idJSON, msg.result), true, req.subKind)

	default:
		p.enqueueTerminalResponse(entry.client, buildSuccessResponse(req.idJSON, msg.result), false, 0)
	}

	return ProxiedResponseDelivered, entry.client, nil
}

// resolveSyntheticResubscribe handles the response to a re-subscribe
// request blacklistServer injected on behalf of a legacy subscription that
// lost its server. It is never visible to the client: success silently
// rebinds the existing subscription entry to its new server and
// server-side id; failure drops the subscription and frees its quota slot.
func (p *Proxy) resolveSyntheticResubscribe(serverID ServerID, c *client, clientID ClientID, req QueuedRequest, msg *serverMessage) {
	sub := req.reuseSubscription
	if sub == nil {
		return
	}
	if msg.err != nil {
		delete(p.subsByClient, subClientKey{client: clientID, id: sub.clientID})
		p.releaseSubscriptionSlot(c, sub.kind)
		return
	}
	sub.server = serverID
	sub.serverID = rawString(msg.result)
	p.subsByServer[subServerKey{server: serverID, id: sub.serverID}] = sub
}

func (p *Proxy) ingestNotification(serverID ServerID, msg *serverMessage) (ProxiedResponseOutcome, ClientID, error) {
	serverSubID := rawString(msg.subscription)
	sub, ok := p.subsByServer[subServerKey{server: serverID, id: serverSubID}]
	if !ok {
		p.blacklistServer(serverID)
		return ProxiedResponseBlacklisted, 0, nil
	}

	c := p.clients.get(int(sub.client))
	if c == nil || c.tombstoned {
		return ProxiedResponseDiscarded, sub.client, nil
	}

	text := buildNotification(msg.method, fftypes.JSONAnyPtr(`"`+sub.clientID+`"`), msg.subResult, msg.subErr)
	p.enqueueNotification(sub.client, text, false, sub.kind)
	return ProxiedResponseDelivered, sub.client, nil
}
