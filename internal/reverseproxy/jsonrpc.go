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
	"encoding/json"

	"github.com/hyperledger/firefly-common/pkg/fftypes"
)

// rpcRequest is the wire shape of a JSON-RPC request or notification
// flowing in either direction across the proxy boundary. Using
// *fftypes.JSONAny (rather than a concrete Go type) for id/params/result
// lets the proxy pass these fields through bit-for-bit - including
// preserving whether a client-supplied id was a JSON string or a JSON
// number - exactly the way pkg/rpcbackend.RPCRequest does for the
// upstream-facing client this module is adapted from.
type rpcRequest struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *fftypes.JSONAny `json:"id,omitempty"`
	Method  string           `json:"method"`
	Params  *fftypes.JSONAny `json:"params,omitempty"`
}

type rpcError struct {
	Code    int64            `json:"code"`
	Message string           `json:"message"`
	Data    *fftypes.JSONAny `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      *fftypes.JSONAny `json:"id"`
	Result  *fftypes.JSONAny `json:"result,omitempty"`
	Error   *rpcError        `json:"error,omitempty"`
}

type rpcNotificationParams struct {
	Subscription *fftypes.JSONAny `json:"subscription"`
	Result       *fftypes.JSONAny `json:"result,omitempty"`
	Error        *rpcError        `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  rpcNotificationParams `json:"params"`
}

const jsonrpcVersion = "2.0"

// errParse is returned by parseClientRequest/parseServerMessage when the
// input is not valid JSON, or not a well-formed JSON-RPC object.
type errParse struct{ msg string }

func (e *errParse) Error() string { return e.msg }

func parseClientRequest(text []byte) (*rpcRequest, error) {
	var req rpcRequest
	if err := json.Unmarshal(text, &req); err != nil {
		return nil, &errParse{msg: "invalid JSON-RPC request: " + err.Error()}
	}
	if req.Method == "" {
		return nil, &errParse{msg: "missing method"}
	}
	return &req, nil
}

// serverMessageKind distinguishes what insert_proxied_json_rpc_response
// received: a response to an in-flight request, or a subscription
// notification pushed unprompted by the server.
type serverMessageKind int

const (
	serverMessageInvalid serverMessageKind = iota
	serverMessageResponse
	serverMessageNotification
)

// serverMessage is the result of sniffing a raw message from a backend
// JSON-RPC server: either it carries an id (a response) or a method (a
// notification), per the JSON-RPC 2.0 specification.
type serverMessage struct {
	kind         serverMessageKind
	id           *fftypes.JSONAny
	result       *fftypes.JSONAny
	err          *rpcError
	method       string
	subscription *fftypes.JSONAny
	subResult    *fftypes.JSONAny
	subErr       *rpcError
}

func parseServerMessage(text []byte) (*serverMessage, error) {
	var raw struct {
		ID     *fftypes.JSONAny      `json:"id,omitempty"`
		Method string                `json:"method,omitempty"`
		Result *fftypes.JSONAny      `json:"result,omitempty"`
		Error  *rpcError             `json:"error,omitempty"`
		Params rpcNotificationParams `json:"params,omitempty"`
	}
	if err := json.Unmarshal(text, &raw); err != nil {
		return nil, &errParse{msg: "invalid JSON-RPC message from server: " + err.Error()}
	}
	switch {
	case raw.Method != "":
		if raw.Params.Subscription == nil {
			return nil, &errParse{msg: "notification missing subscription"}
		}
		return &serverMessage{
			kind:         serverMessageNotification,
			method:       raw.Method,
			subscription: raw.Params.Subscription,
			subResult:    raw.Params.Result,
			subErr:       raw.Params.Error,
		}, nil
	case raw.ID != nil:
		return &serverMessage{
			kind:   serverMessageResponse,
			id:     raw.ID,
			result: raw.Result,
			err:    raw.Error,
		}, nil
	default:
		return nil, &errParse{msg: "message is neither a response nor a notification"}
	}
}

func buildRequest(id *fftypes.JSONAny, method string, params *fftypes.JSONAny) []byte {
	req := rpcRequest{JSONRPC: jsonrpcVersion, ID: id, Method: method, Params: params}
	b, _ := json.Marshal(req)
	return b
}

// positionalParam returns the JSON text of the param at index i, assuming
// params is a JSON array, or nil if params is absent, not an array, or too
// short. Used by the classifier to pull out things like a subscription id
// or a followSubscriptionId without imposing a schema on the rest of the
// request.
func positionalParam(params *fftypes.JSONAny, i int) *fftypes.JSONAny {
	if params == nil {
		return nil
	}
	var arr []*fftypes.JSONAny
	if err := json.Unmarshal(params.Bytes(), &arr); err != nil {
		return nil
	}
	if i < 0 || i >= len(arr) {
		return nil
	}
	return arr[i]
}

// namedParam returns the JSON text of the named field, assuming params is
// a JSON object.
func namedParam(params *fftypes.JSONAny, name string) *fftypes.JSONAny {
	if params == nil {
		return nil
	}
	var obj map[string]*fftypes.JSONAny
	if err := json.Unmarshal(params.Bytes(), &obj); err != nil {
		return nil
	}
	return obj[name]
}

func buildSuccessResponse(id *fftypes.JSONAny, result *fftypes.JSONAny) []byte {
	if result == nil {
		result = fftypes.JSONAnyPtr(fftypes.NullString)
	}
	b, _ := json.Marshal(rpcResponse{JSONRPC: jsonrpcVersion, ID: id, Result: result})
	return b
}

func buildErrorResponse(id *fftypes.JSONAny, code int64, message string) []byte {
	b, _ := json.Marshal(rpcResponse{JSONRPC: jsonrpcVersion, ID: id, Error: &rpcError{
		Code:    code,
		Message: message,
	}})
	return b
}

func buildNotification(method string, subscription *fftypes.JSONAny, result *fftypes.JSONAny, err *rpcError) []byte {
	b, _ := json.Marshal(rpcNotification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params: rpcNotificationParams{
			Subscription: subscription,
			Result:       result,
			Error:        err,
		},
	})
	return b
}

func rawString(v *fftypes.JSONAny) string {
	var s string
	if v == nil {
		return ""
	}
	if err := json.Unmarshal(v.Bytes(), &s); err != nil {
		return v.String()
	}
	return s
}
