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

package auth

import (
	"net/http"
	"strings"
)

// Development identity headers.
const (
	DevUserHeader  = "X-Workbench-Dev-User"
	DevRolesHeader = "X-Workbench-Dev-Roles"
)

type devStrategy struct {
	environment string
}

// NewDevStrategy trusts identity headers. It returns nil unless dev auth is
// enabled and the environment is local.
func NewDevStrategy(enabled bool, environment string) Strategy {
	if !enabled || environment != EnvLocal {
		return nil
	}
	return devStrategy{environment: environment}
}

func (d devStrategy) Name() string { return "dev" }

func (d devStrategy) TryResolve(r *http.Request) (*Principal, error) {
	user := strings.TrimSpace(r.Header.Get(DevUserHeader))
	if user == "" {
		return nil, nil
	}
	var roles []string
	for _, role := range strings.Split(r.Header.Get(DevRolesHeader), ",") {
		roles = append(roles, strings.TrimSpace(role))
	}
	return NewPrincipal(user, roles, d.environment), nil
}
