package server

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/agent"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/engine"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

type doneStream struct{ sent bool }

func (s *doneStream) Recv() (agent.Chunk, error) {
	if s.sent {
		return nil, io.EOF
	}
	s.sent = true
	return agent.Chunk(`{"type":"text","text":"1. done"}`), nil
}

func (s *doneStream) Close() error { return nil }

type doneAgent struct{}

func (doneAgent) Run(context.Context, agent.Request) (agent.Stream, error) {
	return &doneStream{}, nil
}

type fixture struct {
	engine  *engine.Engine
	server  *Server
	client  *Client
	project string
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	t.Setenv(config.HomeEnv, t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	settings := models.NewSettings()
	settings.Orchestrator.TickInterval = time.Hour
	project := t.TempDir()
	eng, err := engine.New(settings, engine.Options{
		Agent:         doneAgent{},
		WorkspaceRoot: t.TempDir(),
		Projects:      []string{project},
		DisableWatch:  true,
	}, logger)
	require.NoError(t, err)
	require.NoError(t, eng.Start(context.Background()))

	srv, err := New(eng, Options{Secret: secret}, logger)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()

	client, err := Dial(fmt.Sprintf("%s:%d", Host, srv.Port()), secret)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		srv.Stop()
		eng.Stop()
	})
	return &fixture{engine: eng, server: srv, client: client, project: project}
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCreateGetAndListTasks(t *testing.T) {
	f := newFixture(t, "")
	ctx := ctxT(t)

	created, err := f.client.CreateTask(ctx, models.TaskScopeWorkspace, "", task.CreateInput{
		Name:     "write docs",
		Priority: models.TaskPriorityHigh,
		Tags:     []string{"docs"},
		Payload:  map[string]any{"retries": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusTodo, created.Status)
	assert.Equal(t, models.TaskScopeWorkspace, created.Scope)

	got, err := f.client.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "write docs", got.Name)
	assert.Equal(t, float64(3), got.Payload["retries"])

	_, err = f.client.CreateTask(ctx, models.TaskScopeProject, f.project, task.CreateInput{Name: "project task"})
	require.NoError(t, err)

	all, err := f.client.ListTasks(ctx, ListTaskFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	tagged, err := f.client.ListTasks(ctx, ListTaskFilter{Tag: "docs"})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, created.ID, tagged[0].ID)

	project, err := f.client.ListTasks(ctx, ListTaskFilter{Scope: models.TaskScopeProject})
	require.NoError(t, err)
	require.Len(t, project, 1)
	assert.Equal(t, "project task", project[0].Name)
}

func TestErrorCodes(t *testing.T) {
	f := newFixture(t, "")
	ctx := ctxT(t)

	_, err := f.client.GetTask(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = f.client.CreateTask(ctx, models.TaskScopeProject, t.TempDir(), task.CreateInput{Name: "x"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.client.CreateTask(ctx, "galaxy", "", task.CreateInput{Name: "x"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	created, err := f.client.CreateTask(ctx, models.TaskScopeWorkspace, "", task.CreateInput{Name: "todo"})
	require.NoError(t, err)

	_, err = f.client.ResolveReview(ctx, created.ID, "approve", "")
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = f.client.ResolveReview(ctx, created.ID, "shrug", "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = f.client.GetTask(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestRunTaskNowRecordsRun(t *testing.T) {
	f := newFixture(t, "")
	ctx := ctxT(t)
	yes := true

	created, err := f.client.CreateTask(ctx, models.TaskScopeWorkspace, "", task.CreateInput{
		Name:            "quick",
		SkipPlanConfirm: &yes,
	})
	require.NoError(t, err)

	started, err := f.client.RunTaskNow(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, started)

	require.Eventually(t, func() bool {
		got, err := f.client.GetTask(ctx, created.ID)
		return err == nil && got.Status == models.TaskStatusDone
	}, 3*time.Second, 20*time.Millisecond)

	runs, err := f.client.ReadRunLogs(ctx, created.ID, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunTriggerManual, runs[0].Trigger)
	assert.Equal(t, models.RunStatusOK, runs[0].Status)

	archived, err := f.client.ArchiveTask(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, archived)

	_, err = f.client.GetTask(ctx, created.ID)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestUpdateCancelAndDelete(t *testing.T) {
	f := newFixture(t, "")
	ctx := ctxT(t)

	created, err := f.client.CreateTask(ctx, models.TaskScopeWorkspace, "", task.CreateInput{Name: "old"})
	require.NoError(t, err)

	name := "new"
	updated, err := f.client.UpdateTask(ctx, created.ID, task.Patch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Name)

	cancelled, err := f.client.Cancel(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCancelled, cancelled.Status)

	_, err = f.client.Cancel(ctx, created.ID)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	deleted, err := f.client.DeleteTask(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = f.client.DeleteTask(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestTemplates(t *testing.T) {
	f := newFixture(t, "")
	ctx := ctxT(t)

	tpl, err := f.client.CreateTemplate(ctx, "", task.TemplateInput{
		Name:           "nightly",
		AgentName:      "claude-code",
		DefaultPayload: map[string]any{"branch": "main"},
		Tags:           []string{"ci"},
	})
	require.NoError(t, err)

	list, err := f.client.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, tpl.ID, list[0].ID)

	created, err := f.client.CreateTaskFromTemplate(ctx, tpl.ID, models.TaskScopeProject, f.project, task.CreateInput{})
	require.NoError(t, err)
	assert.Equal(t, "nightly", created.Name)
	assert.Equal(t, "main", created.Payload["branch"])
	assert.Equal(t, models.TaskScopeProject, created.Scope)

	deleted, err := f.client.DeleteTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = f.client.CreateTaskFromTemplate(ctx, tpl.ID, models.TaskScopeWorkspace, "", task.CreateInput{})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestSubscribeEventsStreamsStatusChanges(t *testing.T) {
	f := newFixture(t, "")
	ctx := ctxT(t)
	yes := true

	created, err := f.client.CreateTask(ctx, models.TaskScopeWorkspace, "", task.CreateInput{
		Name:            "watched",
		SkipPlanConfirm: &yes,
	})
	require.NoError(t, err)

	errDone := errors.New("done")
	got := make(chan []models.TaskStatus, 1)
	go func() {
		var seen []models.TaskStatus
		_ = f.client.SubscribeEvents(ctx, created.ID, func(ev events.Event) error {
			if ev.Kind != events.KindStatusChange {
				return nil
			}
			seen = append(seen, ev.Status)
			if ev.Status == models.TaskStatusDone {
				return errDone
			}
			return nil
		})
		got <- seen
	}()

	require.Eventually(t, func() bool {
		st, err := f.client.GetStatus(ctx)
		return err == nil && st.Subscribers > 0
	}, 3*time.Second, 10*time.Millisecond)

	_, err = f.client.RunTaskNow(ctx, created.ID)
	require.NoError(t, err)

	select {
	case seen := <-got:
		assert.Equal(t, []models.TaskStatus{models.TaskStatusRunning, models.TaskStatusDone}, seen)
	case <-ctx.Done():
		t.Fatal("no done event")
	}
}

func TestGetStatusAndShutdown(t *testing.T) {
	f := newFixture(t, "")
	ctx := ctxT(t)

	st, err := f.client.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, f.server.Port(), st.Port)
	assert.Equal(t, []string{f.project}, st.Projects)
	assert.Equal(t, f.engine.WorkspaceRoot(), st.WorkspaceRoot)
	assert.Empty(t, st.Running)

	require.NoError(t, f.client.Shutdown(ctx))
	select {
	case <-f.server.ShutdownRequested():
	case <-ctx.Done():
		t.Fatal("shutdown not requested")
	}
}

func TestAuthRequiresValidToken(t *testing.T) {
	f := newFixture(t, "s3cret")
	ctx := ctxT(t)
	addr := fmt.Sprintf("%s:%d", Host, f.server.Port())

	_, err := f.client.GetStatus(ctx)
	require.NoError(t, err)

	anonymous, err := Dial(addr, "")
	require.NoError(t, err)
	defer anonymous.Close()
	_, err = anonymous.GetStatus(ctx)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	forged, err := Dial(addr, "other")
	require.NoError(t, err)
	defer forged.Close()
	_, err = forged.GetStatus(ctx)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	token, err := NewToken("k", "cli", -time.Minute)
	require.NoError(t, err)
	_, err = verifyToken("k", token)
	assert.Error(t, err)

	token, err = NewToken("k", "cli", time.Minute)
	require.NoError(t, err)
	claims, err := verifyToken("k", token)
	require.NoError(t, err)
	assert.Equal(t, "cli", claims.Subject)

	_, err = NewToken("", "cli", time.Minute)
	assert.Error(t, err)
}

func TestGrpcWebRequestIsServed(t *testing.T) {
	f := newFixture(t, "")

	// An empty Struct encodes to zero bytes: a single uncompressed frame header.
	frame := make([]byte, 5)
	binary.BigEndian.PutUint32(frame[1:], 0)

	url := fmt.Sprintf("http://%s:%d%s", Host, f.server.Port(), FullMethod(MethodGetStatus))
	req, err := http.NewRequestWithContext(ctxT(t), http.MethodPost, url, bytes.NewReader(frame))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/grpc-web+proto")
	req.Header.Set("X-Grpc-Web", "1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/grpc-web"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(string(body)), "grpc-status: 0")
}
