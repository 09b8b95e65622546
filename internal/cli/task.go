package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/server"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
	Long:  `Create, inspect and drive tasks held by the daemon.`,
}

var taskListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	Args:    cobra.NoArgs,
	RunE:    runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a new task",
	Args:  cobra.NoArgs,
	RunE:  runTaskAdd,
}

var taskEditCmd = &cobra.Command{
	Use:   "edit <task-id>",
	Short: "Edit a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskEdit,
}

var taskDeleteCmd = &cobra.Command{
	Use:     "delete <task-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a task and its run history",
	Args:    cobra.ExactArgs(1),
	RunE:    runTaskDelete,
}

var taskArchiveCmd = &cobra.Command{
	Use:   "archive <task-id>",
	Short: "Archive a done task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskArchive,
}

var taskRunCmd = &cobra.Command{
	Use:   "run <task-id>",
	Short: "Run a task now, ignoring dependencies and conflicts",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRun,
}

var taskEnqueueCmd = &cobra.Command{
	Use:   "enqueue <task-id>",
	Short: "Start a todo task if its dependencies are met",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskEnqueue,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var taskApproveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Approve a plan or a completed task in review",
	Args:  cobra.ExactArgs(1),
	RunE:  reviewRunner("approve"),
}

var taskRejectCmd = &cobra.Command{
	Use:   "reject <task-id>",
	Short: "Reject a task in review",
	Args:  cobra.ExactArgs(1),
	RunE:  reviewRunner("reject"),
}

var taskReworkCmd = &cobra.Command{
	Use:   "rework <task-id>",
	Short: "Send a completed task back to todo",
	Args:  cobra.ExactArgs(1),
	RunE:  reviewRunner("rework"),
}

var taskLogsCmd = &cobra.Command{
	Use:   "logs <task-id>",
	Short: "Show a task's run history",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskLogs,
}

var taskWatchCmd = &cobra.Command{
	Use:   "watch [task-id]",
	Short: "Stream status and progress events",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTaskWatch,
}

// taskFlags holds the flags shared by add and edit.
type taskFlags struct {
	name           string
	description    string
	project        string
	priority       string
	agent          string
	session        string
	cron           string
	every          time.Duration
	at             string
	timeout        time.Duration
	planTimeout    time.Duration
	cooldown       time.Duration
	skipPlan       bool
	requiresReview bool
	autoExecute    bool
	enabled        bool
	parent         string
	dependsOn      []string
	tags           []string
	payload        map[string]string
}

var (
	addFlags  taskFlags
	editFlags taskFlags

	listStatus string
	listScope  string
	listTag    string

	reviewReason string
	logsLimit    int
)

func (f *taskFlags) register(fs *pflag.FlagSet, forEdit bool) {
	fs.StringVarP(&f.name, "name", "n", "", "Task name")
	fs.StringVarP(&f.description, "description", "d", "", "Instructions for the agent")
	if !forEdit {
		fs.StringVarP(&f.project, "project", "p", "", "Project root for a project scoped task")
	}
	fs.StringVar(&f.priority, "priority", "", "urgent, high, medium or low")
	fs.StringVar(&f.agent, "agent", "", "Agent name from settings")
	fs.StringVar(&f.session, "session", "", "Session mode: isolated or shared")
	fs.StringVar(&f.cron, "cron", "", "Cron expression (5 fields)")
	fs.DurationVar(&f.every, "every", 0, "Run on a fixed interval")
	fs.StringVar(&f.at, "at", "", "Run once at an RFC 3339 time")
	fs.DurationVar(&f.timeout, "timeout", 0, "Run timeout")
	fs.DurationVar(&f.planTimeout, "plan-timeout", 0, "Plan confirmation timeout")
	fs.DurationVar(&f.cooldown, "cooldown", 0, "Minimum time between automatic runs")
	fs.BoolVar(&f.skipPlan, "skip-plan", false, "Skip plan confirmation")
	fs.BoolVar(&f.requiresReview, "review", false, "Require review after completion")
	fs.BoolVar(&f.autoExecute, "auto", false, "Let the orchestrator start the task")
	fs.BoolVar(&f.enabled, "enabled", true, "Enable the task")
	fs.StringVar(&f.parent, "parent", "", "Parent task id")
	fs.StringSliceVar(&f.dependsOn, "depends-on", nil, "Task ids that must be done first")
	fs.StringSliceVar(&f.tags, "tag", nil, "Tags")
	fs.StringToStringVar(&f.payload, "set", nil, "Payload entries key=value (JSON values allowed)")
}

func init() {
	addFlags.register(taskAddCmd.Flags(), false)
	editFlags.register(taskEditCmd.Flags(), true)
	taskEditCmd.Flags().Bool("clear-schedule", false, "Remove the schedule")

	taskListCmd.Flags().StringVar(&listStatus, "status", "", "Only tasks with this status")
	taskListCmd.Flags().StringVar(&listScope, "scope", "", "workspace or project")
	taskListCmd.Flags().StringVar(&listTag, "tag", "", "Only tasks with this tag")

	for _, c := range []*cobra.Command{taskApproveCmd, taskRejectCmd, taskReworkCmd} {
		c.Flags().StringVarP(&reviewReason, "reason", "r", "", "Reason recorded in the activity log")
	}
	taskLogsCmd.Flags().IntVarP(&logsLimit, "limit", "l", 20, "Number of runs to show")

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskApproveCmd)
	taskCmd.AddCommand(taskArchiveCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCmd.AddCommand(taskEditCmd)
	taskCmd.AddCommand(taskEnqueueCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskLogsCmd)
	taskCmd.AddCommand(taskRejectCmd)
	taskCmd.AddCommand(taskReworkCmd)
	taskCmd.AddCommand(taskRunCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskWatchCmd)
}

// parseSchedule builds a schedule from the mutually exclusive flags.
// It returns nil when none is set.
func parseSchedule(cron string, every time.Duration, at string) (*models.Schedule, error) {
	set := 0
	for _, on := range []bool{cron != "", every > 0, at != ""} {
		if on {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, nil
	case set > 1:
		return nil, errors.New("use only one of --cron, --every and --at")
	case cron != "":
		return &models.Schedule{Type: models.ScheduleTypeCron, CronExpr: cron}, nil
	case every > 0:
		return &models.Schedule{Type: models.ScheduleTypeInterval, IntervalMs: every.Milliseconds()}, nil
	default:
		when, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return nil, fmt.Errorf("invalid --at time: %w", err)
		}
		return &models.Schedule{Type: models.ScheduleTypeOnce, ScheduleAt: &when}, nil
	}
}

// parsePayload decodes each value as JSON, falling back to the raw string.
func parsePayload(in map[string]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, raw := range in {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[k] = v
	}
	return out
}

func (f *taskFlags) createInput() (task.CreateInput, error) {
	schedule, err := parseSchedule(f.cron, f.every, f.at)
	if err != nil {
		return task.CreateInput{}, err
	}
	in := task.CreateInput{
		Name:                 f.name,
		Description:          f.description,
		Priority:             models.TaskPriority(f.priority),
		Schedule:             schedule,
		AgentName:            f.agent,
		Payload:              parsePayload(f.payload),
		SessionMode:          models.SessionMode(f.session),
		TimeoutMs:            f.timeout.Milliseconds(),
		PlanConfirmTimeoutMs: f.planTimeout.Milliseconds(),
		SkipPlanConfirm:      &f.skipPlan,
		RequiresReview:       &f.requiresReview,
		AutoExecute:          &f.autoExecute,
		Enabled:              &f.enabled,
		CooldownMs:           f.cooldown.Milliseconds(),
		ParentTaskID:         f.parent,
		DependsOn:            f.dependsOn,
		Tags:                 f.tags,
		CreatedBy:            models.CreatedByUser,
	}
	if schedule != nil {
		in.TriggerMode = models.TriggerModeScheduled
	}
	return in, nil
}

// patch builds a patch from the flags the user actually set.
func (f *taskFlags) patch(fs *pflag.FlagSet) (task.Patch, error) {
	var p task.Patch
	changed := fs.Changed
	if changed("name") {
		p.Name = &f.name
	}
	if changed("description") {
		p.Description = &f.description
	}
	if changed("priority") {
		pr := models.TaskPriority(f.priority)
		p.Priority = &pr
	}
	if changed("agent") {
		p.AgentName = &f.agent
	}
	if changed("session") {
		mode := models.SessionMode(f.session)
		p.SessionMode = &mode
	}
	if changed("cron") || changed("every") || changed("at") {
		schedule, err := parseSchedule(f.cron, f.every, f.at)
		if err != nil {
			return p, err
		}
		mode := models.TriggerModeScheduled
		p.Schedule, p.TriggerMode = schedule, &mode
	}
	if clearSchedule, _ := fs.GetBool("clear-schedule"); clearSchedule {
		mode := models.TriggerModeManual
		p.ClearSchedule, p.TriggerMode = true, &mode
	}
	if changed("timeout") {
		ms := f.timeout.Milliseconds()
		p.TimeoutMs = &ms
	}
	if changed("plan-timeout") {
		ms := f.planTimeout.Milliseconds()
		p.PlanConfirmTimeoutMs = &ms
	}
	if changed("cooldown") {
		ms := f.cooldown.Milliseconds()
		p.CooldownMs = &ms
	}
	if changed("skip-plan") {
		p.SkipPlanConfirm = &f.skipPlan
	}
	if changed("review") {
		p.RequiresReview = &f.requiresReview
	}
	if changed("auto") {
		p.AutoExecute = &f.autoExecute
	}
	if changed("enabled") {
		p.Enabled = &f.enabled
	}
	if changed("parent") {
		p.ParentTaskID = &f.parent
	}
	if changed("depends-on") {
		p.DependsOn = f.dependsOn
	}
	if changed("tag") {
		p.Tags = f.tags
	}
	if changed("set") {
		p.Payload = parsePayload(f.payload)
	}
	return p, nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		tasks, err := c.ListTasks(ctx, server.ListTaskFilter{
			Status: models.TaskStatus(listStatus),
			Scope:  models.TaskScope(listScope),
			Tag:    listTag,
		})
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks. Run " + paint(styleCommand, "openloaf task add") + " to create one.")
			return nil
		}

		sort.Slice(tasks, func(i, j int) bool {
			if ri, rj := tasks[i].Priority.Rank(), tasks[j].Priority.Rank(); ri != rj {
				return ri < rj
			}
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		})
		for _, t := range tasks {
			fmt.Printf("  %s  %s  %-8s %s\n",
				paint(styleHint, t.ID),
				statusBadge(t, 17),
				t.Priority,
				truncate(t.Name, 60),
			)
		}
		return nil
	})
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		t, err := c.GetTask(ctx, args[0])
		if err != nil {
			return err
		}
		printTask(t)
		return nil
	})
}

func printTask(t *models.Task) {
	fmt.Printf("%s  %s\n", paint(styleBrand, t.Name), statusBadge(t, 0))
	printField("ID", t.ID)
	printField("Scope", string(t.Scope))
	printField("Priority", string(t.Priority))
	printField("Trigger", string(t.TriggerMode))
	if t.Schedule != nil {
		printField("Schedule", describeSchedule(t.Schedule))
	}
	printField("Agent", t.AgentName)
	printField("Session", string(t.SessionMode))
	printField("Auto", fmt.Sprint(t.AutoExecute))
	printField("Enabled", fmt.Sprint(t.Enabled))
	if len(t.DependsOn) > 0 {
		printField("Depends on", strings.Join(t.DependsOn, ", "))
	}
	if len(t.Tags) > 0 {
		printField("Tags", strings.Join(t.Tags, ", "))
	}
	printField("Runs", fmt.Sprintf("%d (%d consecutive errors)", t.RunCount, t.ConsecutiveErrors))
	printField("Last run", agoPtr(t.LastRunAt))
	if t.LastStatus != "" {
		printField("Last status", string(t.LastStatus))
	}
	if t.LastError != "" {
		printField("Last error", paint(styleError, truncate(t.LastError, 120)))
	}
	if s := t.ExecutionSummary; s != nil {
		if s.CurrentStep != nil && s.TotalSteps != nil {
			printField("Progress", fmt.Sprintf("step %d of %d", *s.CurrentStep, *s.TotalSteps))
		}
		if s.LastAgentMessage != "" {
			printField("Agent said", truncate(s.LastAgentMessage, 120))
		}
	}
	if t.Description != "" {
		fmt.Printf("\n%s\n", t.Description)
	}
	if len(t.ActivityLog) > 0 {
		fmt.Println("\nActivity:")
		for _, e := range t.ActivityLog {
			fmt.Printf("  %s  %-9s %s -> %s  %s\n",
				paint(styleHint, e.Timestamp.Local().Format("01-02 15:04:05")),
				e.Actor, e.From, e.To, e.Reason)
		}
	}
}

func describeSchedule(s *models.Schedule) string {
	switch s.Type {
	case models.ScheduleTypeCron:
		return "cron " + s.CronExpr
	case models.ScheduleTypeInterval:
		return "every " + s.Interval().String()
	case models.ScheduleTypeOnce:
		if s.ScheduleAt != nil {
			return "once at " + s.ScheduleAt.Local().Format(time.RFC3339)
		}
	}
	return string(s.Type)
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	if addFlags.name == "" {
		reader := bufio.NewReader(os.Stdin)
		addFlags.name = promptLine(reader, "Name", "")
		if addFlags.description == "" {
			addFlags.description = promptLine(reader, "Instructions (optional)", "")
		}
	}
	if addFlags.name == "" {
		return fmt.Errorf("name is required")
	}
	in, err := addFlags.createInput()
	if err != nil {
		return err
	}

	scope, root := models.TaskScopeWorkspace, ""
	if addFlags.project != "" {
		if root, err = filepath.Abs(addFlags.project); err != nil {
			return err
		}
		scope = models.TaskScopeProject
	}

	return withDaemon(func(ctx context.Context, c *server.Client) error {
		t, err := c.CreateTask(ctx, scope, root, in)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s created (%s).\n", paint(styleCommand, t.ID), t.Name)
		return nil
	})
}

func runTaskEdit(cmd *cobra.Command, args []string) error {
	patch, err := editFlags.patch(cmd.Flags())
	if err != nil {
		return err
	}
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		t, err := c.UpdateTask(ctx, args[0], patch)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s updated.\n", t.ID)
		return nil
	})
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		deleted, err := c.DeleteTask(ctx, args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("task %s not found", args[0])
		}
		fmt.Printf("Task %s deleted.\n", args[0])
		return nil
	})
}

func runTaskArchive(cmd *cobra.Command, args []string) error {
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		archived, err := c.ArchiveTask(ctx, args[0])
		if err != nil {
			return err
		}
		if !archived {
			return fmt.Errorf("task %s is not done", args[0])
		}
		fmt.Printf("Task %s archived.\n", args[0])
		return nil
	})
}

func runTaskRun(cmd *cobra.Command, args []string) error {
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		started, err := c.RunTaskNow(ctx, args[0])
		if err != nil {
			return err
		}
		if !started {
			fmt.Println(paint(styleWarning, "Task is already running."))
			return nil
		}
		fmt.Printf("Task %s started. Follow it with %s.\n", args[0], paint(styleCommand, "openloaf task watch "+args[0]))
		return nil
	})
}

func runTaskEnqueue(cmd *cobra.Command, args []string) error {
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		started, err := c.Enqueue(ctx, args[0])
		if err != nil {
			return err
		}
		if !started {
			fmt.Println(paint(styleWarning, "Task not started: it must be an enabled todo task with its dependencies done."))
			return nil
		}
		fmt.Printf("Task %s started.\n", args[0])
		return nil
	})
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		t, err := c.Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Task %s is %s.\n", t.ID, statusBadge(t, 0))
		return nil
	})
}

func reviewRunner(action string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withDaemon(func(ctx context.Context, c *server.Client) error {
			t, err := c.ResolveReview(ctx, args[0], action, reviewReason)
			if err != nil {
				return err
			}
			fmt.Printf("Task %s is %s.\n", t.ID, statusBadge(t, 0))
			return nil
		})
	}
}

func runTaskLogs(cmd *cobra.Command, args []string) error {
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		runs, err := c.ReadRunLogs(ctx, args[0], logsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}
		for _, r := range runs {
			style := styleSuccess
			if r.Status != models.RunStatusOK {
				style = styleError
			}
			line := fmt.Sprintf("  %s  %-10s %-10s %8s",
				paint(styleHint, r.StartedAt.Local().Format("2006-01-02 15:04:05")),
				r.Trigger,
				paint(style, fmt.Sprintf("%-9s", r.Status)),
				(time.Duration(r.DurationMs) * time.Millisecond).Round(time.Second))
			if r.Error != "" {
				line += "  " + truncate(r.Error, 80)
			}
			fmt.Println(line)
		}
		return nil
	})
}

func runTaskWatch(cmd *cobra.Command, args []string) error {
	if err := EnsureDaemon(); err != nil {
		return err
	}
	c, err := connectDaemon()
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var taskID string
	if len(args) == 1 {
		taskID = args[0]
	}
	err = c.SubscribeEvents(ctx, taskID, func(ev events.Event) error {
		fmt.Println(formatEvent(ev))
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func formatEvent(ev events.Event) string {
	stamp := paint(styleHint, ev.UpdatedAt.Local().Format("15:04:05"))
	switch ev.Kind {
	case events.KindStatusChange:
		to := string(ev.Status)
		if ev.ReviewType != "" {
			to += ":" + string(ev.ReviewType)
		}
		return fmt.Sprintf("%s  %s  %s -> %s  %s", stamp, ev.TaskID, ev.PreviousStatus, paint(styleWarning, to), ev.Title)
	case events.KindSummaryUpdate:
		var parts []string
		if s := ev.Summary; s != nil {
			if s.CurrentStep != nil {
				step := fmt.Sprintf("step %d", *s.CurrentStep)
				if s.TotalSteps != nil {
					step += fmt.Sprintf("/%d", *s.TotalSteps)
				}
				parts = append(parts, step)
			}
			if s.LastAgentMessage != nil {
				parts = append(parts, truncate(*s.LastAgentMessage, 80))
			}
		}
		return fmt.Sprintf("%s  %s  %s", stamp, ev.TaskID, strings.Join(parts, "  "))
	default:
		return fmt.Sprintf("%s  %s  %s", stamp, ev.TaskID, ev.Kind)
	}
}
