package server

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// Client is a typed TaskService client.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to a daemon at addr. A non-empty secret signs every call.
func Dial(addr, secret string, extra ...grpc.DialOption) (*Client, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if secret != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(tokenCredentials{secret: secret}))
	}
	opts = append(opts, extra...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes a unary method. req is encoded as a Struct (nil sends an
// empty one) and the response is decoded into resp when it is non-nil.
func (c *Client) Call(ctx context.Context, method string, req, resp any) error {
	in := &structpb.Struct{}
	if req != nil {
		var err error
		if in, err = ToStruct(req); err != nil {
			return err
		}
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return FromStruct(out, resp)
}

func call[T any](ctx context.Context, c *Client, method string, req any) (*T, error) {
	var out T
	if err := c.Call(ctx, method, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateTask creates a task. root is required for project scope.
func (c *Client) CreateTask(ctx context.Context, scope models.TaskScope, root string, in task.CreateInput) (*models.Task, error) {
	return call[models.Task](ctx, c, MethodCreateTask, createTaskRequest{Scope: string(scope), Root: root, Task: in})
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return call[models.Task](ctx, c, MethodGetTask, idRequest{ID: id})
}

// ListTaskFilter narrows ListTasks. Empty fields match everything.
type ListTaskFilter struct {
	Status models.TaskStatus
	Scope  models.TaskScope
	Tag    string
}

// ListTasks lists tasks across every root.
func (c *Client) ListTasks(ctx context.Context, f ListTaskFilter) ([]*models.Task, error) {
	var out struct {
		Tasks []*models.Task `json:"tasks"`
	}
	err := c.Call(ctx, MethodListTasks, listTasksRequest{Status: string(f.Status), Scope: string(f.Scope), Tag: f.Tag}, &out)
	return out.Tasks, err
}

// UpdateTask applies a patch.
func (c *Client) UpdateTask(ctx context.Context, id string, patch task.Patch) (*models.Task, error) {
	return call[models.Task](ctx, c, MethodUpdateTask, updateTaskRequest{ID: id, Patch: patch})
}

// DeleteTask removes a task and its run history.
func (c *Client) DeleteTask(ctx context.Context, id string) (bool, error) {
	var out struct {
		Deleted bool `json:"deleted"`
	}
	err := c.Call(ctx, MethodDeleteTask, idRequest{ID: id}, &out)
	return out.Deleted, err
}

// ArchiveTask moves a done task to the archive.
func (c *Client) ArchiveTask(ctx context.Context, id string) (bool, error) {
	var out struct {
		Archived bool `json:"archived"`
	}
	err := c.Call(ctx, MethodArchiveTask, idRequest{ID: id}, &out)
	return out.Archived, err
}

// CreateTemplate creates a template, under root when it is set.
func (c *Client) CreateTemplate(ctx context.Context, root string, in task.TemplateInput) (*models.TaskTemplate, error) {
	return call[models.TaskTemplate](ctx, c, MethodCreateTemplate, createTemplateRequest{Root: root, Template: in})
}

// DeleteTemplate removes a template.
func (c *Client) DeleteTemplate(ctx context.Context, id string) (bool, error) {
	var out struct {
		Deleted bool `json:"deleted"`
	}
	err := c.Call(ctx, MethodDeleteTemplate, idRequest{ID: id}, &out)
	return out.Deleted, err
}

// ListTemplates lists templates across every root.
func (c *Client) ListTemplates(ctx context.Context) ([]*models.TaskTemplate, error) {
	var out struct {
		Templates []*models.TaskTemplate `json:"templates"`
	}
	err := c.Call(ctx, MethodListTemplates, nil, &out)
	return out.Templates, err
}

// CreateTaskFromTemplate creates a task seeded from a template.
func (c *Client) CreateTaskFromTemplate(ctx context.Context, templateID string, scope models.TaskScope, root string, in task.CreateInput) (*models.Task, error) {
	req := createFromTemplateRequest{TemplateID: templateID, Scope: string(scope), Root: root, Task: in}
	return call[models.Task](ctx, c, MethodCreateTaskFromTemplate, req)
}

// Enqueue asks the orchestrator to start a todo task now.
func (c *Client) Enqueue(ctx context.Context, id string) (bool, error) {
	return c.started(ctx, MethodEnqueue, id)
}

// RunTaskNow starts a task immediately, bypassing orchestration checks.
func (c *Client) RunTaskNow(ctx context.Context, id string) (bool, error) {
	return c.started(ctx, MethodRunTaskNow, id)
}

func (c *Client) started(ctx context.Context, method, id string) (bool, error) {
	var out struct {
		Started bool `json:"started"`
	}
	err := c.Call(ctx, method, idRequest{ID: id}, &out)
	return out.Started, err
}

// Cancel cancels a task and returns its new state.
func (c *Client) Cancel(ctx context.Context, id string) (*models.Task, error) {
	return call[models.Task](ctx, c, MethodCancel, idRequest{ID: id})
}

// ResolveReview approves, rejects or reworks a task in review.
func (c *Client) ResolveReview(ctx context.Context, id, action, reason string) (*models.Task, error) {
	return call[models.Task](ctx, c, MethodResolveReview, resolveReviewRequest{ID: id, Action: action, Reason: reason})
}

// ResolvePlanConfirmation answers a pending plan confirmation directly.
func (c *Client) ResolvePlanConfirmation(ctx context.Context, id, result, reason string) (bool, error) {
	var out struct {
		Resolved bool `json:"resolved"`
	}
	err := c.Call(ctx, MethodResolvePlanConfirmation, resolvePlanRequest{ID: id, Result: result, Reason: reason}, &out)
	return out.Resolved, err
}

// ReadRunLogs returns the most recent runs of a task, oldest first.
func (c *Client) ReadRunLogs(ctx context.Context, id string, limit int) ([]*models.TaskRunLog, error) {
	var out struct {
		Runs []*models.TaskRunLog `json:"runs"`
	}
	err := c.Call(ctx, MethodReadRunLogs, readRunLogsRequest{ID: id, Limit: limit}, &out)
	return out.Runs, err
}

// GetStatus describes the daemon.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	return call[Status](ctx, c, MethodGetStatus, nil)
}

// RefreshProjects makes the daemon reload the projects index.
func (c *Client) RefreshProjects(ctx context.Context) ([]string, error) {
	var out struct {
		Projects []string `json:"projects"`
	}
	err := c.Call(ctx, MethodRefreshProjects, nil, &out)
	return out.Projects, err
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.Call(ctx, MethodShutdown, nil, nil)
}

// SubscribeEvents streams bus events to fn until ctx ends, the daemon stops
// or fn returns an error. An empty taskID receives every task's events.
func (c *Client) SubscribeEvents(ctx context.Context, taskID string, fn func(events.Event) error) error {
	stream, err := c.conn.NewStream(ctx, &TaskServiceDesc.Streams[0], FullMethod(MethodSubscribeEvents))
	if err != nil {
		return err
	}
	in, err := ToStruct(subscribeRequest{TaskID: taskID})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(in); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var ev events.Event
		if err := FromStruct(msg, &ev); err != nil {
			return err
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}
