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

package proxymsgs

import "github.com/hyperledger/firefly-common/pkg/i18n"

var ffe = i18n.FFE

//revive:disable
var (
	MsgNoBackendsConfigured = ffe("FF23010", "No backend servers configured")
	MsgBackendDialFailed    = ffe("FF23011", "Failed to connect to backend server '%s'")
	MsgClientQuotaExceeded  = ffe("FF23012", "Client quota exceeded")
	MsgUnknownClient        = ffe("FF23013", "Unknown client")
	MsgInvalidUpgrade       = ffe("FF23014", "Failed to upgrade client connection to WebSocket")
	MsgHealthCheckFailed    = ffe("FF23015", "Backend server '%s' failed health check: %s")
	MsgWriteToClientFailed  = ffe("FF23016", "Failed to write to client connection")

	MsgInvalidParam            = ffe("FF23017", "Invalid parameter [%d] for method '%s': %s")
	MsgRPCRequestFailed        = ffe("FF23018", "RPC request failed: %s")
	MsgRequestCanceledContext  = ffe("FF23019", "Request '%s' canceled by context")
)
