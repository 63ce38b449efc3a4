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

// methodInfo classifies a single JSON-RPC method name. It is intentionally
// data, not code: the classifier (requests.go) is a single table lookup
// plus a handful of structural checks (malformed JSON, missing params),
// mirroring the static method tables used throughout the JSON-RPC corpus
// rather than a long if/else chain.
type methodInfo struct {
	category             requestCategory
	subKind              subscriptionKind
	isLocal              bool
	isSubscribeAttempt   bool
	isUnsubscribeAttempt bool
}

// localAnswers is true for methods answered synchronously by the proxy
// without ever reaching a server.
var localAnswers = map[string]bool{
	"system_name":               true,
	"system_version":            true,
	"sudo_unstable_version":     true,
	"sudo_unstable_p2pDiscover": true,
}

// legacyStickyMethods are directed to the client's sticky server, assigned
// on the first such call and fixed until that server is blacklisted.
var legacyStickyMethods = map[string]methodInfo{
	"chain_subscribeAllHeads":            {category: categoryLegacySticky, subKind: subscriptionLegacy, isSubscribeAttempt: true},
	"chain_subscribeNewHeads":            {category: categoryLegacySticky, subKind: subscriptionLegacy, isSubscribeAttempt: true},
	"chain_subscribeFinalizedHeads":      {category: categoryLegacySticky, subKind: subscriptionLegacy, isSubscribeAttempt: true},
	"state_subscribeRuntimeVersion":      {category: categoryLegacySticky, subKind: subscriptionLegacy, isSubscribeAttempt: true},
	"state_subscribeStorage":             {category: categoryLegacySticky, subKind: subscriptionLegacy, isSubscribeAttempt: true},
	"chain_unsubscribeAllHeads":          {category: categoryLegacySticky, subKind: subscriptionLegacy, isUnsubscribeAttempt: true},
	"chain_unsubscribeNewHeads":          {category: categoryLegacySticky, subKind: subscriptionLegacy, isUnsubscribeAttempt: true},
	"chain_unsubscribeFinalizedHeads":    {category: categoryLegacySticky, subKind: subscriptionLegacy, isUnsubscribeAttempt: true},
	"state_unsubscribeRuntimeVersion":    {category: categoryLegacySticky, subKind: subscriptionLegacy, isUnsubscribeAttempt: true},
	"state_unsubscribeStorage":           {category: categoryLegacySticky, subKind: subscriptionLegacy, isUnsubscribeAttempt: true},
	"chain_getBlock":                     {category: categoryLegacySticky},
	"chain_getBlockHash":                 {category: categoryLegacySticky},
	"chain_getFinalizedHead":             {category: categoryLegacySticky},
	"chain_getHeader":                    {category: categoryLegacySticky},
	"state_getMetadata":                  {category: categoryLegacySticky},
	"state_getRuntimeVersion":            {category: categoryLegacySticky},
	"state_getStorage":                   {category: categoryLegacySticky},
	"state_call":                         {category: categoryLegacySticky},
	"payment_queryInfo":                  {category: categoryLegacySticky},
	"system_chain":                       {category: categoryLegacySticky},
	"system_properties":                  {category: categoryLegacySticky},
	"system_health":                      {category: categoryLegacySticky},
}

// freshRandomRoutedMethods are placed in the server-agnostic queue: any
// idle, non-blacklisted server may pick them up, and each call is an
// independent routing decision.
var freshRandomRoutedMethods = map[string]methodInfo{
	"chainHead_unstable_follow":              {category: categoryFreshRouted, subKind: subscriptionChainHeadFollow, isSubscribeAttempt: true},
	"transaction_unstable_submitAndWatch":     {category: categoryFreshRouted, subKind: subscriptionTransactionWatch, isSubscribeAttempt: true},
	"author_submitAndWatchExtrinsic":          {category: categoryFreshRouted, subKind: subscriptionTransactionWatch, isSubscribeAttempt: true},
	"chainSpec_v1_chainName":                  {category: categoryFreshRouted},
	"chainSpec_v1_genesisHash":                {category: categoryFreshRouted},
	"chainSpec_v1_properties":                 {category: categoryFreshRouted},
	"rpc_methods":                             {category: categoryFreshRouted},
}

// chainHeadFollowUpMethods all carry a followSubscriptionId (conventionally
// the first positional parameter) and are routed to whichever server owns
// that chainHead_unstable_follow subscription.
var chainHeadFollowUpMethods = map[string]methodInfo{
	"chainHead_unstable_unfollow":      {category: categoryFollowUp, subKind: subscriptionChainHeadFollow, isUnsubscribeAttempt: true},
	"chainHead_unstable_unpin":         {category: categoryFollowUp, subKind: subscriptionChainHeadFollow},
	"chainHead_unstable_body":          {category: categoryFollowUp, subKind: subscriptionChainHeadFollow},
	"chainHead_unstable_call":          {category: categoryFollowUp, subKind: subscriptionChainHeadFollow},
	"chainHead_unstable_header":        {category: categoryFollowUp, subKind: subscriptionChainHeadFollow},
	"chainHead_unstable_storage":       {category: categoryFollowUp, subKind: subscriptionChainHeadFollow},
	"chainHead_unstable_stopOperation": {category: categoryFollowUp, subKind: subscriptionChainHeadFollow},
	"chainHead_unstable_continue":      {category: categoryFollowUp, subKind: subscriptionChainHeadFollow},
}

// lookupMethod returns the classification of method, and ok=false if the
// method is unknown to the proxy (which results in a JSON-RPC "method not
// found" answered locally).
func lookupMethod(method string) (methodInfo, bool) {
	if localAnswers[method] {
		return methodInfo{isLocal: true}, true
	}
	if info, ok := legacyStickyMethods[method]; ok {
		return info, true
	}
	if info, ok := freshRandomRoutedMethods[method]; ok {
		return info, true
	}
	if info, ok := chainHeadFollowUpMethods[method]; ok {
		return info, true
	}
	return methodInfo{}, false
}
