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

// Package reverseproxy implements the JSON-RPC reverse-proxy multiplexer
// core: a pure, single-threaded state machine that routes requests from
// many JSON-RPC clients to a pool of interchangeable JSON-RPC servers.
//
// The state machine owns no sockets and schedules no time. Callers feed it
// raw JSON-RPC text and pull raw JSON-RPC text back out; everything else
// (accepting connections, reading/writing bytes, logging) belongs to the
// host package (internal/rpcgateway).
package reverseproxy

import (
	"math/rand"
	"time"

	"github.com/hyperledger/firefly-common/pkg/fftypes"
)

// ClientID is an opaque dense handle identifying a client registered with
// the proxy via InsertClient.
type ClientID int

// ServerID is an opaque dense handle identifying a server registered with
// the proxy via InsertServer.
type ServerID int

// Config configures a new Proxy.
type Config struct {
	// RandomSeed seeds the proxy's internal source of randomness, used to
	// attribute requests to clients and servers, and to mint fresh
	// request/subscription identifiers. Two proxies built with the same
	// seed and fed the same sequence of calls behave identically, which
	// makes the state machine reproducible in tests. Zero means a seed is
	// drawn from the clock when the Proxy is created.
	RandomSeed int64
}

// ClientConfig configures a client inserted with InsertClient.
type ClientConfig struct {
	// MaxUnansweredParallelRequests is the maximum number of requests that
	// haven't been answered yet that the client is allowed to have
	// in-flight at once.
	MaxUnansweredParallelRequests int

	// MaxLegacyAPISubscriptions is the maximum number of concurrent
	// legacy-API subscriptions (chain_subscribe*, state_subscribe*).
	MaxLegacyAPISubscriptions int

	// MaxChainHeadFollowSubscriptions is the maximum number of concurrent
	// chainHead_unstable_follow subscriptions. Per the JSON-RPC
	// specification this is silently raised to 2 if smaller.
	MaxChainHeadFollowSubscriptions int

	// MaxTransactionsSubscriptions is the maximum number of concurrent
	// transaction-watch subscriptions (transaction_unstable_submitAndWatch,
	// author_submitAndWatchExtrinsic).
	MaxTransactionsSubscriptions int

	// UserData is opaque data stored alongside the client, retrievable with
	// Proxy.ClientData.
	UserData interface{}
}

// subscriptionKind distinguishes the three families of subscription the
// multiplexer understands, each with its own quota counter and its own
// terminal-event behavior when the owning server is blacklisted.
type subscriptionKind int

const (
	subscriptionLegacy subscriptionKind = iota
	subscriptionChainHeadFollow
	subscriptionTransactionWatch
)

// requestCategory is the outcome of classifying an incoming client request;
// it determines which queue a QueuedRequest is placed into.
type requestCategory int

const (
	// categoryFreshRouted requests are placed in the client's
	// server-agnostic queue and routed to any idle, non-blacklisted server.
	categoryFreshRouted requestCategory = iota
	// categoryLegacySticky requests are routed to the client's sticky
	// legacy-API server (chosen the first time such a request is made).
	categoryLegacySticky
	// categoryFollowUp requests carry a subscription id (a
	// followSubscriptionId, or the subscription id being unsubscribed) and
	// are routed to whichever server owns that subscription.
	categoryFollowUp
)

// QueuedRequest is a client request that has been classified and is
// waiting to be picked up by a server (or re-queued after a blacklist).
type QueuedRequest struct {
	idJSON     *fftypes.JSONAny
	method     string
	paramsJSON *fftypes.JSONAny

	category requestCategory

	// subKind is meaningful for categoryFollowUp requests and for subscribe
	// and unsubscribe attempts: it identifies which subscription counter
	// and which terminal-event shape applies.
	subKind subscriptionKind

	// isSubscribeAttempt is true for requests that, on a successful
	// response, create a new subscription mapping (legacy subscribes,
	// chainHead_unstable_follow, transaction watch calls).
	isSubscribeAttempt bool

	// isUnsubscribeAttempt is true for requests that, on a successful
	// response, remove an existing subscription mapping (legacy
	// *_unsubscribe* calls, chainHead_unstable_unfollow).
	isUnsubscribeAttempt bool

	// clientSubscriptionID identifies, for categoryFollowUp requests and
	// for any isUnsubscribeAttempt request, which of the client's own
	// subscriptions this request targets (the client-side id found in the
	// request's parameters).
	clientSubscriptionID string

	// synthetic is true for requests the proxy itself injects rather than
	// a client - currently only the re-subscribe generated by
	// blacklistServer for a legacy subscription. Synthetic requests are
	// never visible to any client: they don't count against
	// numUnansweredRequests and their response is never enqueued.
	synthetic bool

	// reuseSubscription is set on a synthetic re-subscribe request; when
	// its response succeeds the existing subscription entry is updated in
	// place (new server, new server-side id) rather than minting a new
	// client-visible subscription id.
	reuseSubscription *subscription
}

// inFlightKey identifies a request that has been handed to a server and is
// awaiting a response.
type inFlightKey struct {
	server ServerID
	id     string
}

type inFlightEntry struct {
	client ClientID
	req    QueuedRequest
}

// subServerKey identifies a subscription from the server's point of view.
type subServerKey struct {
	server ServerID
	id     string
}

// subClientKey identifies a subscription from the client's point of view.
type subClientKey struct {
	client ClientID
	id     string
}

type subscription struct {
	kind     subscriptionKind
	client   ClientID
	clientID string
	server   ServerID
	serverID string

	// subscribeMethod and subscribeParams are recorded only for
	// subscriptionLegacy subscriptions, so that a synthetic re-subscribe
	// can be generated (with the right method and parameters, e.g. the
	// storage keys of a state_subscribeStorage call) if the owning
	// server is later blacklisted.
	subscribeMethod string
	subscribeParams *fftypes.JSONAny
}

// pairKey identifies a per-(client, server) request queue.
type pairKey struct {
	client ClientID
	server ServerID
}

type client struct {
	numUnansweredRequests int
	maxUnansweredRequests int

	numLegacyAPISubscriptions int
	maxLegacyAPISubscriptions int

	numChainHeadFollowSubscriptions int
	maxChainHeadFollowSubscriptions int

	numTransactionsSubscriptions int
	maxTransactionsSubscriptions int

	serverAgnosticRequestsQueue []QueuedRequest
	jsonRPCResponsesQueue       []queuedResponse

	legacyAPIAssignedServer *ServerID

	// userData is nil once the client has been tombstoned by RemoveClient.
	// The slot is only reclaimed once all in-flight work referencing it
	// has drained (see Proxy.tryRemoveClient).
	userData interface{}

	// tombstoned distinguishes "never had user data" (impossible via the
	// public API) from "removed, draining". Kept distinct from userData
	// being nil so zero-value interface{} (e.g. UserData: nil) can still
	// be used by callers without being mistaken for a tombstone.
	tombstoned bool
}

func (c *client) exists() bool {
	return !c.tombstoned
}

type server struct {
	isBlacklisted bool
	userData      interface{}
}

// queuedResponse is an entry in a client's response queue. text is what
// Proxy.NextClientResponse returns; the two decrement flags record what
// bookkeeping to perform at the moment the client actually dequeues it,
// per the "decremented on dequeue" timing spec.md specifies for both the
// in-flight counter and the three subscription counters.
type queuedResponse struct {
	text []byte

	// decrementUnanswered is true unless text is a subscription
	// notification (ordinary update, or synthetic terminal event): those
	// were never counted against numUnansweredRequests in the first
	// place.
	decrementUnanswered bool

	// decrementSub, when true, means popping this entry also releases one
	// unit of the subKind counter - used for: a subscribe request whose
	// response was an error (the attempt failed), a successful unsubscribe
	// response, and a synthetic terminal event (stop/dropped).
	decrementSub bool
	subKind      subscriptionKind
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
