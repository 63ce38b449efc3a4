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
	"testing"
	"time"

	"github.com/hyperledger/firefly-common/pkg/config"
	"github.com/stretchr/testify/assert"
)

func TestResetRegistersDefaults(t *testing.T) {
	Reset()
	assert.Equal(t, 32, config.GetInt(ClientMaxUnansweredRequests))
	assert.Equal(t, 16, config.GetInt(ClientMaxLegacySubscriptions))
	assert.Equal(t, 2, config.GetInt(ClientMaxChainHeadFollows))
	assert.Equal(t, 16, config.GetInt(ClientMaxTransactionWatches))
	assert.Equal(t, "system_health", config.GetString(BackendHealthCheckMethod))
	assert.Equal(t, 30*time.Second, config.GetDuration(BackendHeartbeatInterval))
	assert.Equal(t, 5, config.GetInt(BackendInitialConnectAttempts))
}

func TestResetRegistersSections(t *testing.T) {
	Reset()
	assert.NotNil(t, ServerConfig)
	assert.NotNil(t, CorsConfig)
	assert.NotNil(t, BackendConfig)
}

func TestResetIsIdempotentAcrossCalls(t *testing.T) {
	Reset()
	config.Set(ClientMaxUnansweredRequests, 99)
	Reset()
	assert.Equal(t, 32, config.GetInt(ClientMaxUnansweredRequests))
}
