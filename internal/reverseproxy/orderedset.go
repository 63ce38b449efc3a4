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

// clientSet is a set of ClientID supporting O(1) add/remove/membership and
// O(1) access by position, which next_proxied_json_rpc_request needs to
// pick a uniformly-random member without materializing a slice on every
// call. Order is not meaningful (callers never rely on it), matching the
// hashbrown::HashSet used for the same purpose upstream.
type clientSet struct {
	members []ClientID
	index   map[ClientID]int
}

func newClientSet() *clientSet {
	return &clientSet{index: make(map[ClientID]int)}
}

func (s *clientSet) add(c ClientID) {
	if _, ok := s.index[c]; ok {
		return
	}
	s.index[c] = len(s.members)
	s.members = append(s.members, c)
}

func (s *clientSet) remove(c ClientID) {
	pos, ok := s.index[c]
	if !ok {
		return
	}
	last := len(s.members) - 1
	s.members[pos] = s.members[last]
	s.index[s.members[pos]] = pos
	s.members = s.members[:last]
	delete(s.index, c)
}

func (s *clientSet) contains(c ClientID) bool {
	_, ok := s.index[c]
	return ok
}

func (s *clientSet) len() int {
	return len(s.members)
}

func (s *clientSet) at(i int) ClientID {
	return s.members[i]
}
