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

// NextClientResponse pops the oldest queued response (or notification)
// destined for a client, applying whatever bookkeeping its enqueuing
// recorded: releasing the client's unanswered-request slot, and/or one unit
// of a subscription counter. Returns ok=false if the client has nothing
// queued (or doesn't exist).
func (p *Proxy) NextClientResponse(id ClientID) ([]byte, bool) {
	c := p.clients.get(int(id))
	if c == nil || len(c.jsonRPCResponsesQueue) == 0 {
		return nil, false
	}
	entry := c.jsonRPCResponsesQueue[0]
	c.jsonRPCResponsesQueue = c.jsonRPCResponsesQueue[1:]

	if entry.decrementUnanswered && c.numUnansweredRequests > 0 {
		c.numUnansweredRequests--
	}
	if entry.decrementSub {
		p.releaseSubscriptionSlot(c, entry.subKind)
	}

	if c.tombstoned {
		p.tryRemoveClient(id)
	}
	return entry.text, true
}

func (p *Proxy) reserveSubscriptionSlot(c *client, kind subscriptionKind) bool {
	switch kind {
	case subscriptionLegacy:
		if c.numLegacyAPISubscriptions >= c.maxLegacyAPISubscriptions {
			return false
		}
		c.numLegacyAPISubscriptions++
	case subscriptionChainHeadFollow:
		if c.numChainHeadFollowSubscriptions >= c.maxChainHeadFollowSubscriptions {
			return false
		}
		c.numChainHeadFollowSubscriptions++
	case subscriptionTransactionWatch:
		if c.numTransactionsSubscriptions >= c.maxTransactionsSubscriptions {
			return false
		}
		c.numTransactionsSubscriptions++
	}
	return true
}

func (p *Proxy) releaseSubscriptionSlot(c *client, kind subscriptionKind) {
	switch kind {
	case subscriptionLegacy:
		if c.numLegacyAPISubscriptions > 0 {
			c.numLegacyAPISubscriptions--
		}
	case subscriptionChainHeadFollow:
		if c.numChainHeadFollowSubscriptions > 0 {
			c.numChainHeadFollowSubscriptions--
		}
	case subscriptionTransactionWatch:
		if c.numTransactionsSubscriptions > 0 {
			c.numTransactionsSubscriptions--
		}
	}
}
