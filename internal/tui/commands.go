package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/server"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

const callTimeout = 5 * time.Second

func loadTasksCmd(c *server.Client, filter models.TaskStatus) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		tasks, err := c.ListTasks(ctx, server.ListTaskFilter{Status: filter})
		if err != nil {
			return ErrorMsg{Err: fmt.Errorf("failed to load tasks: %w", err)}
		}
		return TasksLoadedMsg{Tasks: tasks}
	}
}

func loadRunsCmd(c *server.Client, taskID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		runs, err := c.ReadRunLogs(ctx, taskID, 10)
		if err != nil {
			return ErrorMsg{Err: fmt.Errorf("failed to load runs: %w", err)}
		}
		return RunsLoadedMsg{TaskID: taskID, Runs: runs}
	}
}

// subscribeCmd streams events into the program from a goroutine. The
// command itself returns nothing; the goroutine reports the stream's end.
func subscribeCmd(ctx context.Context, c *server.Client, program *programRef) tea.Cmd {
	return func() tea.Msg {
		go func() {
			err := c.SubscribeEvents(ctx, "", func(ev events.Event) error {
				program.Send(EventMsg{Event: ev})
				return nil
			})
			if ctx.Err() == nil {
				program.Send(StreamEndedMsg{Err: err})
			}
		}()
		return nil
	}
}

// actionCmd runs one task action against the daemon.
func actionCmd(c *server.Client, verb, taskID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()

		var err error
		switch verb {
		case verbRun:
			var started bool
			if started, err = c.RunTaskNow(ctx, taskID); err == nil && !started {
				err = fmt.Errorf("task is already running")
			}
		case verbEnqueue:
			var started bool
			if started, err = c.Enqueue(ctx, taskID); err == nil && !started {
				err = fmt.Errorf("task is not ready to start")
			}
		case verbCancel:
			_, err = c.Cancel(ctx, taskID)
		case verbApprove, verbReject, verbRework:
			_, err = c.ResolveReview(ctx, taskID, verb, "from board")
		case verbDelete:
			_, err = c.DeleteTask(ctx, taskID)
		case verbArchive:
			var archived bool
			if archived, err = c.ArchiveTask(ctx, taskID); err == nil && !archived {
				err = fmt.Errorf("only done tasks can be archived")
			}
		default:
			err = fmt.Errorf("unknown action %q", verb)
		}
		return ActionDoneMsg{Verb: verb, TaskID: taskID, Err: err}
	}
}

func clearNoticeAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return ClearNoticeMsg{} })
}

func resubscribeAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return ResubscribeMsg{} })
}
