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

// InsertClientRequest classifies and enqueues a single piece of raw
// JSON-RPC text received from client id. It returns ErrUnknownClient if id
// does not refer to a live client, and ErrQuotaExceeded - leaving all state
// unchanged - if accepting the request would exceed the client's
// unanswered-request quota or (for a subscribe attempt) its subscription
// quota. Every other outcome, including a malformed request or an unknown
// method, is Ok: the caller sees the failure surface as a JSON-RPC error
// response delivered through NextClientResponse, not as a Go error.
func (p *Proxy) InsertClientRequest(id ClientID, text []byte) error {
	c := p.clients.get(int(id))
	if c == nil || c.tombstoned {
		return ErrUnknownClient
	}

	if c.numUnansweredRequests >= c.maxUnansweredRequests {
		return ErrQuotaExceeded
	}

	req, perr := parseClientRequest(text)
	if perr != nil {
		c.numUnansweredRequests++
		p.enqueueTerminalResponse(id, buildErrorResponse(fftypes.JSONAnyPtr(fftypes.NullString), errCodeParseError, perr.Error()), false, 0)
		return nil
	}

	info, ok := lookupMethod(req.Method)
	if !ok {
		c.numUnansweredRequests++
		p.enqueueTerminalResponse(id, buildErrorResponse(req.ID, errCodeMethodNotFound, "method not found: "+req.Method), false, 0)
		return nil
	}

	if info.isLocal {
		c.numUnansweredRequests++
		p.enqueueTerminalResponse(id, answerLocal(req), false, 0)
		return nil
	}

	if info.category == categoryFollowUp {
		return p.insertFollowUp(id, c, req, info)
	}
	return p.insertRoutable(id, c, req, info)
}

// insertFollowUp handles chainHead_unstable_* requests that reference an
// existing followSubscriptionId. If the subscription is unknown (already
// unfollowed, or never existed) the request is answered locally with a
// null result rather than forwarded, per the chainHead_unstable
// specification's tolerance of late messages about a dead subscription.
func (p *Proxy) insertFollowUp(id ClientID, c *client, req *rpcRequest, info methodInfo) error {
	subID := rawString(positionalParam(req.Params, 0))
	sub, ok := p.subsByClient[subClientKey{client: id, id: subID}]
	if !ok || sub.kind != info.subKind {
		c.numUnansweredRequests++
		p.enqueueTerminalResponse(id, buildSuccessResponse(req.ID, fftypes.JSONAnyPtr(fftypes.NullString)), false, 0)
		return nil
	}

	c.numUnansweredRequests++
	p.pushServerSpecific(id, sub.server, QueuedRequest{
		idJSON:               req.ID,
		method:               req.Method,
		paramsJSON:           req.Params,
		category:             categoryFollowUp,
		subKind:               info.subKind,
		isUnsubscribeAttempt: info.isUnsubscribeAttempt,
		clientSubscriptionID: subID,
	})
	return nil
}

// insertRoutable handles both legacy-sticky and fresh-random-routed
// methods: subscribe attempts reserve a subscription-counter slot up
// front (refusing with ErrQuotaExceeded, state untouched, if none is
// available); legacy unsubscribe attempts are resolved against the
// client's own subscription table immediately, since an unknown
// subscription id is answered locally with `false` rather than forwarded.
func (p *Proxy) insertRoutable(id ClientID, c *client, req *rpcRequest, info methodInfo) error {
	qr := QueuedRequest{idJSON: req.ID, method: req.Method, paramsJSON: req.Params, category: info.category}

	if info.isUnsubscribeAttempt {
		subID := rawString(positionalParam(req.Params, 0))
		sub, ok := p.subsByClient[subClientKey{client: id, id: subID}]
		if !ok || sub.kind != info.subKind {
			c.numUnansweredRequests++
			p.enqueueTerminalResponse(id, buildSuccessResponse(req.ID, fftypes.JSONAnyPtr("false")), false, 0)
			return nil
		}
		qr.isUnsubscribeAttempt = true
		qr.subKind = info.subKind
		qr.clientSubscriptionID = subID
	}

	if info.isSubscribeAttempt {
		if !p.reserveSubscriptionSlot(c, info.subKind) {
			return ErrQuotaExceeded
		}
		qr.isSubscribeAttempt = true
		qr.subKind = info.subKind
	}

	c.numUnansweredRequests++

	if info.category == categoryLegacySticky && c.legacyAPIAssignedServer != nil {
		p.pushServerSpecific(id, *c.legacyAPIAssignedServer, qr)
		return nil
	}
	p.pushAgnostic(id, qr)
	return nil
}
