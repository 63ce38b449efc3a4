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

// localImplementationName and localImplementationVersion answer
// system_name/system_version without ever reaching a backend server: every
// server behind the proxy is interchangeable, so the identity a client
// should see is the proxy's own.
const (
	localImplementationName    = "kaleido-jsonrpc-reverseproxy"
	localImplementationVersion = "1.0.0"
	localSudoVersion           = "2"
)

// answerLocal builds the response text for a method classified isLocal.
// sudo_unstable_p2pDiscover is resolved (per the proxy's Open Questions
// decision) to a permanent local no-op: the proxy owns no peer-to-peer
// network of its own, so there is nothing for any backend to discover.
func answerLocal(req *rpcRequest) []byte {
	switch req.Method {
	case "system_name":
		return buildSuccessResponse(req.ID, fftypes.JSONAnyPtr(`"`+localImplementationName+`"`))
	case "system_version":
		return buildSuccessResponse(req.ID, fftypes.JSONAnyPtr(`"`+localImplementationVersion+`"`))
	case "sudo_unstable_version":
		return buildSuccessResponse(req.ID, fftypes.JSONAnyPtr(`"`+localSudoVersion+`"`))
	case "sudo_unstable_p2pDiscover":
		return buildSuccessResponse(req.ID, fftypes.JSONAnyPtr(fftypes.NullString))
	default:
		return buildErrorResponse(req.ID, errCodeInternalError, "unreachable: unclassified local method")
	}
}
