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

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	wberrors "github.com/tombee/workbench/pkg/errors"
)

// Exit codes
const (
	ExitSuccess       = 0
	ExitFailed        = 1
	ExitInvalidConfig = 2
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	os.Exit(reportError(os.Stderr, err))
}

// reportError writes err to w and returns the exit code for it.
func reportError(w io.Writer, err error) int {
	code := ExitFailed
	msg := err.Error()

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.Code
		msg = exitErr.Message
	}
	fmt.Fprintln(w, "Error:", msg)

	// Config errors carry a list of problems in their cause.
	var cfgErr *wberrors.ConfigError
	if errors.As(err, &cfgErr) {
		fmt.Fprintln(w, " ", cfgErr.Error())
		if cfgErr.Cause != nil {
			fmt.Fprintln(w, " ", cfgErr.Cause.Error())
		}
		fmt.Fprintln(w, "\nSuggestion: run 'workbench config check --config <file>' after fixing the file")
	} else if exitErr != nil && exitErr.Cause != nil {
		fmt.Fprintln(w, " ", exitErr.Cause.Error())
	}
	return code
}
