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

package proxyconfig

import (
	"github.com/hyperledger/firefly-common/pkg/config"
	"github.com/hyperledger/firefly-common/pkg/httpserver"
	"github.com/hyperledger/firefly-common/pkg/wsclient"
	"github.com/spf13/viper"
)

var ffc = config.AddRootKey

var (
	// RandomSeed seeds the proxy's internal source of randomness. Left at
	// its zero-value default, a random seed is drawn at startup; set to a
	// fixed value to make a deployment's request/subscription id minting
	// reproducible (chiefly useful in tests).
	RandomSeed = ffc("proxy.randomSeed")

	// ClientMaxUnansweredRequests bounds, per connected client, how many
	// requests can be in flight (sent upstream or answered locally but not
	// yet delivered) at once.
	ClientMaxUnansweredRequests = ffc("proxy.client.maxUnansweredParallelRequests")
	// ClientMaxLegacySubscriptions bounds concurrent legacy-API
	// subscriptions (chain_subscribe*, state_subscribe*) per client.
	ClientMaxLegacySubscriptions = ffc("proxy.client.maxLegacyAPISubscriptions")
	// ClientMaxChainHeadFollows bounds concurrent chainHead_unstable_follow
	// subscriptions per client. Silently raised to 2 if configured lower.
	ClientMaxChainHeadFollows = ffc("proxy.client.maxChainHeadFollowSubscriptions")
	// ClientMaxTransactionWatches bounds concurrent transaction-watch
	// subscriptions per client.
	ClientMaxTransactionWatches = ffc("proxy.client.maxTransactionWatchSubscriptions")

	// BackendURLs is a comma-separated list of WebSocket JSON-RPC endpoint
	// URLs the gateway dials on startup, one backend server per URL.
	BackendURLs = ffc("proxy.backends.urls")
	// BackendHealthCheckMethod is the JSON-RPC method invoked to decide
	// whether a newly-dialed backend is fit to serve traffic before it's
	// registered with the multiplexer.
	BackendHealthCheckMethod = ffc("proxy.backends.healthCheckMethod")
	// BackendWSKeyPath is the URL path appended to each backend URL's
	// authority to form the actual WebSocket dial target, applied to every
	// configured backend.
	BackendWSKeyPath = ffc("proxy.backends.wsKeyPath")
	// BackendHeartbeatInterval is the ping interval wsclient uses on every
	// backend connection to detect a silently-dead socket.
	BackendHeartbeatInterval = ffc("proxy.backends.heartbeatInterval")
	// BackendInitialConnectAttempts bounds how many times wsclient retries
	// the initial dial of a backend before giving up.
	BackendInitialConnectAttempts = ffc("proxy.backends.initialConnectAttempts")
)

var ServerConfig config.Section

var CorsConfig config.Section

var BackendConfig config.Section

func setDefaults() {
	viper.SetDefault(string(ClientMaxUnansweredRequests), 32)
	viper.SetDefault(string(ClientMaxLegacySubscriptions), 16)
	viper.SetDefault(string(ClientMaxChainHeadFollows), 2)
	viper.SetDefault(string(ClientMaxTransactionWatches), 16)
	viper.SetDefault(string(BackendHealthCheckMethod), "system_health")
	viper.SetDefault(string(BackendHeartbeatInterval), "30s")
	viper.SetDefault(string(BackendInitialConnectAttempts), 5)
}

// Reset (re-)registers every config key this module owns against the
// global viper instance, and must be called once before the config tree is
// read - mirroring the pattern every firefly-signer-family command uses to
// keep config registration idempotent across test runs.
func Reset() {
	config.RootConfigReset(setDefaults)

	ServerConfig = config.RootSection("server")
	httpserver.InitHTTPConfig(ServerConfig, 8646)

	CorsConfig = config.RootSection("cors")
	httpserver.InitCORSConfig(CorsConfig)

	BackendConfig = config.RootSection("backend")
	wsclient.InitConfig(BackendConfig)
}
