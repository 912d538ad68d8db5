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

package runner

import (
	"fmt"
	"log/slog"

	"github.com/tombee/flowy/internal/protocol"
	"github.com/tombee/flowy/pkg/errors"
	"github.com/tombee/flowy/pkg/values"
)

// Run services one request file: parse, version-check, execute, and write
// the response next to the request. The response is always written when the
// request is parseable, even on failure; the returned error signals a
// non-zero exit to the binary.
func Run(requestPath string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	request, err := protocol.ReadRequest(requestPath)
	if err != nil {
		return err
	}
	responsePath := protocol.ResponsePath(requestPath)

	if request.Version != protocol.Version {
		mismatch := &errors.ProtocolMismatchError{Expected: protocol.Version, Got: request.Version}
		resp := protocol.FailureResponse(request.RunID,
			fmt.Sprintf("runner speaks version %d but request is version %d", protocol.Version, request.Version),
			errors.ClassProtocolMismatch)
		if writeErr := protocol.WriteResponse(responsePath, resp); writeErr != nil {
			return writeErr
		}
		return mismatch
	}

	resp := execute(request, logger)
	if err := protocol.WriteResponse(responsePath, resp); err != nil {
		return err
	}

	if !resp.Success {
		return errors.New("task execution failed")
	}
	return nil
}

// execute runs the task and shapes the outcome as a protocol response.
func execute(request protocol.Request, logger *slog.Logger) protocol.Response {
	inputs, err := values.DeserializeBindings(request.Inputs)
	if err != nil {
		return protocol.FailureResponse(request.RunID, err.Error(), errors.ClassRuntime)
	}

	ctx, err := NewTaskContext(request.Task, inputs, request.Config, request.WorkflowDir, request.RunID, logger)
	if err != nil {
		return protocol.FailureResponse(request.RunID, err.Error(), errors.Classify(err))
	}

	result, err := ctx.Execute()
	if err != nil {
		logger.Error("task execution failed",
			slog.String("run_id", request.RunID),
			slog.String("state", string(ctx.State())),
			slog.Any("error", err))
		return protocol.FailureResponse(request.RunID, err.Error(), errors.Classify(err))
	}

	outputs, err := values.SerializeBindings(result.Outputs)
	if err != nil {
		return protocol.FailureResponse(request.RunID, err.Error(), errors.ClassRuntime)
	}

	return protocol.SuccessResponse(
		request.RunID,
		result.ExitCode,
		result.Signal,
		result.ExitSuccess,
		result.Stdout,
		result.Stderr,
		result.Duration.Milliseconds(),
		outputs,
		result.WorkDir,
	)
}
