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

import "errors"

// ErrQuotaExceeded is returned by InsertClientRequest when accepting the
// request would push one of the client's counters past its configured
// maximum. State is left unchanged: the request is not enqueued and no
// counter is incremented.
var ErrQuotaExceeded = errors.New("client quota exceeded")

// ErrUnknownClient and ErrUnknownServer are returned when a handle passed
// to the proxy does not refer to a live entry. A client removed with
// RemoveClient counts as unknown even while its slot is still draining.
var (
	ErrUnknownClient = errors.New("unknown client")
	ErrUnknownServer = errors.New("unknown server")
)

// JSON-RPC error codes used by the proxy itself, per the JSON-RPC 2.0
// specification and the conventions observed on the backend servers this
// proxy fronts.
const (
	errCodeParseError     int64 = -32700
	errCodeInvalidRequest int64 = -32600
	errCodeMethodNotFound int64 = -32601
	errCodeInvalidParams  int64 = -32602
	errCodeInternalError  int64 = -32603
)

// ProxiedResponseOutcome is the result of InsertProxiedResponse.
type ProxiedResponseOutcome int

const (
	// ProxiedResponseDelivered means the response or notification was
	// successfully matched to a live client and queued for delivery (or,
	// for the response to a synthetic re-subscribe, applied without
	// queueing anything for the client).
	ProxiedResponseDelivered ProxiedResponseOutcome = iota
	// ProxiedResponseDiscarded means the message was well-formed and
	// matched a known client, but that client had already been removed by
	// the host, so the message was silently dropped. It is also returned,
	// without any matching, for a message from a server that is already
	// blacklisted or unknown.
	ProxiedResponseDiscarded
	// ProxiedResponseBlacklisted means the server misbehaved (answered an
	// unknown request id, returned an internal-error/parse-error code, or
	// sent unparseable data) and has been blacklisted as a result.
	ProxiedResponseBlacklisted
)

func (o ProxiedResponseOutcome) String() string {
	switch o {
	case ProxiedResponseDelivered:
		return "delivered"
	case ProxiedResponseDiscarded:
		return "discarded"
	case ProxiedResponseBlacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}
