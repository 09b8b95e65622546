package server

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/buildinfo"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/engine"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/executor"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/orchestrator"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// defaultRunLogLimit caps ReadRunLogs when the request names no limit.
const defaultRunLogLimit = 50

// taskService implements TaskServiceServer over an engine.
type taskService struct {
	engine *engine.Engine
	server *Server
}

var _ TaskServiceServer = (*taskService)(nil)

func (s *taskService) CreateTask(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createTaskRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	scope, root, err := s.resolveScope(req.Scope, req.Root)
	if err != nil {
		return nil, err
	}
	if req.Task.CreatedBy == "" {
		req.Task.CreatedBy = models.CreatedByUser
	}
	t, err := s.engine.Store.Create(req.Task, root, scope)
	if err != nil {
		return nil, toStatus(err)
	}
	s.engine.Scheduler.RegisterTask(t)
	return ToStruct(t)
}

func (s *taskService) GetTask(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	t, err := s.getTask(in)
	if err != nil {
		return nil, err
	}
	return ToStruct(t)
}

func (s *taskService) ListTasks(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listTasksRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	tasks, err := s.engine.Store.List(s.engine.Roots())
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]*models.Task, 0, len(tasks))
	for _, t := range tasks {
		if req.Status != "" && string(t.Status) != req.Status {
			continue
		}
		if req.Scope != "" && string(t.Scope) != req.Scope {
			continue
		}
		if req.Tag != "" && !slices.Contains(t.Tags, req.Tag) {
			continue
		}
		out = append(out, t)
	}
	return ToStruct(map[string]any{"tasks": out})
}

func (s *taskService) UpdateTask(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req updateTaskRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.ID == "" {
		return nil, invalid("id is required")
	}
	t, err := s.engine.Store.Update(req.ID, req.Patch, s.engine.Roots())
	if err != nil {
		return nil, toStatus(err)
	}
	if err := s.engine.Scheduler.Sync(t.ID); err != nil {
		s.server.logger.Warn("failed to sync schedule", "task", t.ID, "error", err)
	}
	return ToStruct(t)
}

func (s *taskService) DeleteTask(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	s.engine.Executor.Abort(id, executor.ErrAborted)
	s.engine.Scheduler.UnregisterTask(id)
	deleted, err := s.engine.Store.DeleteTask(id, s.engine.Roots())
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(map[string]any{"deleted": deleted})
}

func (s *taskService) ArchiveTask(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	archived, err := s.engine.Store.ArchiveTask(id, s.engine.Roots())
	if err != nil {
		return nil, toStatus(err)
	}
	if archived {
		s.engine.Scheduler.UnregisterTask(id)
	}
	return ToStruct(map[string]any{"archived": archived})
}

func (s *taskService) CreateTemplate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createTemplateRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	root := s.engine.WorkspaceRoot()
	if req.Root != "" {
		var err error
		if root, err = s.projectRoot(req.Root); err != nil {
			return nil, err
		}
	}
	tpl, err := s.engine.Store.CreateTemplate(req.Template, root)
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(tpl)
}

func (s *taskService) DeleteTemplate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	deleted, err := s.engine.Store.DeleteTemplate(id, s.engine.Roots())
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(map[string]any{"deleted": deleted})
}

func (s *taskService) ListTemplates(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	templates, err := s.engine.Store.ListTemplates(s.engine.Roots())
	if err != nil {
		return nil, toStatus(err)
	}
	if templates == nil {
		templates = []*models.TaskTemplate{}
	}
	return ToStruct(map[string]any{"templates": templates})
}

func (s *taskService) CreateTaskFromTemplate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createFromTemplateRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.TemplateID == "" {
		return nil, invalid("templateId is required")
	}
	scope, root, err := s.resolveScope(req.Scope, req.Root)
	if err != nil {
		return nil, err
	}
	if req.Task.CreatedBy == "" {
		req.Task.CreatedBy = models.CreatedByUser
	}
	t, err := s.engine.Store.CreateFromTemplate(req.TemplateID, req.Task, root, scope, s.engine.Roots())
	if err != nil {
		return nil, toStatus(err)
	}
	s.engine.Scheduler.RegisterTask(t)
	return ToStruct(t)
}

func (s *taskService) Enqueue(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	started, err := s.engine.Orchestrator.Enqueue(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(map[string]any{"started": started})
}

func (s *taskService) Cancel(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	if err := s.engine.Orchestrator.Cancel(id); err != nil {
		return nil, toStatus(err)
	}
	return s.GetTask(context.Background(), in)
}

func (s *taskService) RunTaskNow(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	t, err := s.getTask(in)
	if err != nil {
		return nil, err
	}
	// Runs outlive the request, so they hang off the engine context.
	started := s.engine.Executor.Start(s.engine.Context(), t.ID, models.RunTriggerManual)
	return ToStruct(map[string]any{"started": started})
}

func (s *taskService) ResolveReview(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req resolveReviewRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.ID == "" {
		return nil, invalid("id is required")
	}
	action := orchestrator.ReviewAction(req.Action)
	switch action {
	case orchestrator.ActionApprove, orchestrator.ActionReject, orchestrator.ActionRework:
	default:
		return nil, invalid("unknown review action %q", req.Action)
	}
	if err := s.engine.Orchestrator.ResolveReview(req.ID, action, req.Reason); err != nil {
		return nil, toStatus(err)
	}
	t, err := s.engine.Store.Get(req.ID, s.engine.Roots())
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(t)
}

func (s *taskService) ResolvePlanConfirmation(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req resolvePlanRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.ID == "" {
		return nil, invalid("id is required")
	}
	result := executor.GateResult(req.Result)
	switch result {
	case executor.GateApproved, executor.GateCancelled:
	default:
		return nil, invalid("unknown confirmation result %q", req.Result)
	}
	resolved := s.engine.Executor.ResolvePlanConfirmation(req.ID, result, req.Reason)
	return ToStruct(map[string]any{"resolved": resolved})
}

func (s *taskService) ReadRunLogs(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req readRunLogsRequest
	if err := FromStruct(in, &req); err != nil {
		return nil, invalid("%v", err)
	}
	if req.ID == "" {
		return nil, invalid("id is required")
	}
	if req.Limit <= 0 {
		req.Limit = defaultRunLogLimit
	}
	runs, err := s.engine.Ledger.Read(req.ID, s.engine.Roots().Search(), req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	if runs == nil {
		runs = []*models.TaskRunLog{}
	}
	return ToStruct(map[string]any{"runs": runs})
}

func (s *taskService) GetStatus(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	roots := s.engine.Roots()
	projects := roots.Projects
	if projects == nil {
		projects = []string{}
	}
	return ToStruct(Status{
		Version:       buildinfo.Version,
		PID:           os.Getpid(),
		Port:          s.server.Port(),
		StartedAt:     s.server.startedAt.Format(time.RFC3339),
		WorkspaceRoot: roots.Workspace,
		Projects:      projects,
		Running:       s.engine.Executor.Running(),
		Scheduled:     s.engine.Scheduler.Len(),
		Subscribers:   s.engine.Bus.Subscribers(),
	})
}

func (s *taskService) RefreshProjects(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	roots := s.engine.RefreshProjects()
	projects := roots.Projects
	if projects == nil {
		projects = []string{}
	}
	return ToStruct(map[string]any{"projects": projects})
}

func (s *taskService) Shutdown(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.server.requestShutdown()
	return &structpb.Struct{}, nil
}

func (s *taskService) SubscribeEvents(in *structpb.Struct, stream grpc.ServerStream) error {
	var req subscribeRequest
	if err := FromStruct(in, &req); err != nil {
		return invalid("%v", err)
	}
	ch, unsubscribe := s.engine.Bus.Subscribe(events.DefaultBuffer)
	defer unsubscribe()

	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-s.server.done:
			return status.Error(codes.Unavailable, "daemon shutting down")
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if req.TaskID != "" && ev.TaskID != req.TaskID {
				continue
			}
			msg, err := ToStruct(ev)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func (s *taskService) getTask(in *structpb.Struct) (*models.Task, error) {
	id, err := requireID(in)
	if err != nil {
		return nil, err
	}
	t, err := s.engine.Store.Get(id, s.engine.Roots())
	if err != nil {
		return nil, toStatus(err)
	}
	if t == nil {
		return nil, status.Errorf(codes.NotFound, "task %s not found", id)
	}
	return t, nil
}

// resolveScope picks the root a new task is written under. Project scoped
// tasks must name a registered project.
func (s *taskService) resolveScope(scope, root string) (models.TaskScope, string, error) {
	switch models.TaskScope(scope) {
	case "", models.TaskScopeWorkspace:
		if root != "" {
			return "", "", invalid("root is only valid for project scope")
		}
		return models.TaskScopeWorkspace, s.engine.WorkspaceRoot(), nil
	case models.TaskScopeProject:
		path, err := s.projectRoot(root)
		if err != nil {
			return "", "", err
		}
		return models.TaskScopeProject, path, nil
	default:
		return "", "", invalid("unknown scope %q", scope)
	}
}

func (s *taskService) projectRoot(root string) (string, error) {
	if root == "" {
		return "", invalid("project scope requires a root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", invalid("invalid root %q: %v", root, err)
	}
	if !slices.Contains(s.engine.Roots().Projects, abs) {
		return "", invalid("%s is not a registered project", abs)
	}
	return abs, nil
}

func requireID(in *structpb.Struct) (string, error) {
	var req idRequest
	if err := FromStruct(in, &req); err != nil {
		return "", invalid("%v", err)
	}
	if req.ID == "" {
		return "", invalid("id is required")
	}
	return req.ID, nil
}
