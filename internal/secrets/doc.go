// Copyright 2025 Tom Barlow
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

/*
Package secrets resolves the provider API token used for an upstream call.

Tokens never leave the server: the gateway resolves one per upstream call,
places it in an outbound header and discards it.

# Resolution order

	hook      - injected by tests, ignored in production
	env       - WORKBENCH_DEV_TOKEN_<PROVIDER>, only with dev auth in local
	backend   - the configured secret store (OpenBao KV v2)

A store is addressed by Key{Provider, Initiator, Scope}. Every component is
checked against a conservative character set before it is placed in a store
path, so a caller-chosen initiator id cannot walk the secret tree.

# Errors

ErrNotConfigured means no backend exists and no override applied; the
operator must configure one. ErrSecretNotFound means the backend has no
token for this initiator; the operator must store one.
*/
package secrets
