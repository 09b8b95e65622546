package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/orchestrator"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
)

// ToStruct converts a JSON-serialisable value into a Struct message.
// The value must marshal to a JSON object.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return out, nil
}

// FromStruct decodes a Struct message into v through its JSON form.
func FromStruct(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// Request and response bodies.

type idRequest struct {
	ID string `json:"id"`
}

type createTaskRequest struct {
	Scope string           `json:"scope,omitempty"`
	Root  string           `json:"root,omitempty"`
	Task  task.CreateInput `json:"task"`
}

type listTasksRequest struct {
	Status string `json:"status,omitempty"`
	Scope  string `json:"scope,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

type updateTaskRequest struct {
	ID    string     `json:"id"`
	Patch task.Patch `json:"patch"`
}

type createTemplateRequest struct {
	Root     string             `json:"root,omitempty"`
	Template task.TemplateInput `json:"template"`
}

type createFromTemplateRequest struct {
	TemplateID string           `json:"templateId"`
	Scope      string           `json:"scope,omitempty"`
	Root       string           `json:"root,omitempty"`
	Task       task.CreateInput `json:"task"`
}

type resolveReviewRequest struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

type resolvePlanRequest struct {
	ID     string `json:"id"`
	Result string `json:"result"`
	Reason string `json:"reason,omitempty"`
}

type readRunLogsRequest struct {
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

type subscribeRequest struct {
	TaskID string `json:"taskId,omitempty"`
}

// Status describes the running daemon.
type Status struct {
	Version       string   `json:"version"`
	PID           int      `json:"pid"`
	Port          int      `json:"port"`
	StartedAt     string   `json:"startedAt"`
	WorkspaceRoot string   `json:"workspaceRoot"`
	Projects      []string `json:"projects"`
	Running       []string `json:"running"`
	Scheduled     int      `json:"scheduled"`
	Subscribers   int      `json:"subscribers"`
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, task.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, task.ErrInvalidTransition), errors.Is(err, orchestrator.ErrNotInReview):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, task.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func invalid(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}
