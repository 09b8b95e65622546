package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/server"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

var templateCmd = &cobra.Command{
	Use:     "template",
	Aliases: []string{"tpl"},
	Short:   "Manage task templates",
}

var templateListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List templates",
	Args:    cobra.NoArgs,
	RunE:    runTemplateList,
}

var templateAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a template",
	Args:  cobra.NoArgs,
	RunE:  runTemplateAdd,
}

var templateDeleteCmd = &cobra.Command{
	Use:     "delete <template-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a template",
	Args:    cobra.ExactArgs(1),
	RunE:    runTemplateDelete,
}

var templateUseCmd = &cobra.Command{
	Use:   "use <template-id>",
	Short: "Create a task from a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplateUse,
}

var (
	tplName           string
	tplDescription    string
	tplProject        string
	tplAgent          string
	tplPriority       string
	tplTimeout        time.Duration
	tplSkipPlan       bool
	tplRequiresReview bool
	tplTags           []string
	tplPayload        map[string]string

	useName    string
	useProject string
	useAuto    bool
)

func init() {
	f := templateAddCmd.Flags()
	f.StringVarP(&tplName, "name", "n", "", "Template name")
	f.StringVarP(&tplDescription, "description", "d", "", "Instructions for the agent")
	f.StringVarP(&tplProject, "project", "p", "", "Store the template under a project root")
	f.StringVar(&tplAgent, "agent", "", "Agent name from settings")
	f.StringVar(&tplPriority, "priority", "", "urgent, high, medium or low")
	f.DurationVar(&tplTimeout, "timeout", 0, "Run timeout")
	f.BoolVar(&tplSkipPlan, "skip-plan", false, "Skip plan confirmation")
	f.BoolVar(&tplRequiresReview, "review", false, "Require review after completion")
	f.StringSliceVar(&tplTags, "tag", nil, "Tags")
	f.StringToStringVar(&tplPayload, "set", nil, "Default payload entries key=value")
	_ = templateAddCmd.MarkFlagRequired("name")

	templateUseCmd.Flags().StringVarP(&useName, "name", "n", "", "Override the task name")
	templateUseCmd.Flags().StringVarP(&useProject, "project", "p", "", "Create a project scoped task under this root")
	templateUseCmd.Flags().BoolVar(&useAuto, "auto", false, "Let the orchestrator start the task")

	templateCmd.AddCommand(templateAddCmd)
	templateCmd.AddCommand(templateDeleteCmd)
	templateCmd.AddCommand(templateListCmd)
	templateCmd.AddCommand(templateUseCmd)
}

func runTemplateList(cmd *cobra.Command, args []string) error {
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		templates, err := c.ListTemplates(ctx)
		if err != nil {
			return err
		}
		if len(templates) == 0 {
			fmt.Println("No templates. Run " + paint(styleCommand, "openloaf template add") + " to create one.")
			return nil
		}
		for _, t := range templates {
			tags := ""
			if len(t.Tags) > 0 {
				tags = paint(styleHint, " ["+strings.Join(t.Tags, ", ")+"]")
			}
			fmt.Printf("  %s  %s%s\n", paint(styleHint, t.ID), t.Name, tags)
		}
		return nil
	})
}

func runTemplateAdd(cmd *cobra.Command, args []string) error {
	in := task.TemplateInput{
		Name:           tplName,
		Description:    tplDescription,
		AgentName:      tplAgent,
		DefaultPayload: parsePayload(tplPayload),
		Priority:       models.TaskPriority(tplPriority),
		Tags:           tplTags,
	}
	if cmd.Flags().Changed("skip-plan") {
		in.SkipPlanConfirm = &tplSkipPlan
	}
	if cmd.Flags().Changed("review") {
		in.RequiresReview = &tplRequiresReview
	}
	if tplTimeout > 0 {
		in.TimeoutMs = tplTimeout.Milliseconds()
	}

	root := ""
	if tplProject != "" {
		var err error
		if root, err = filepath.Abs(tplProject); err != nil {
			return err
		}
	}

	return withDaemon(func(ctx context.Context, c *server.Client) error {
		tpl, err := c.CreateTemplate(ctx, root, in)
		if err != nil {
			return err
		}
		fmt.Printf("Template %s created (%s).\n", paint(styleCommand, tpl.ID), tpl.Name)
		return nil
	})
}

func runTemplateDelete(cmd *cobra.Command, args []string) error {
	return withDaemon(func(ctx context.Context, c *server.Client) error {
		deleted, err := c.DeleteTemplate(ctx, args[0])
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("template %s not found", args[0])
		}
		fmt.Printf("Template %s deleted.\n", args[0])
		return nil
	})
}

func runTemplateUse(cmd *cobra.Command, args []string) error {
	in := task.CreateInput{Name: useName, CreatedBy: models.CreatedByUser}
	if cmd.Flags().Changed("auto") {
		in.AutoExecute = &useAuto
	}
	scope, root := models.TaskScopeWorkspace, ""
	if useProject != "" {
		var err error
		if root, err = filepath.Abs(useProject); err != nil {
			return err
		}
		scope = models.TaskScopeProject
	}

	return withDaemon(func(ctx context.Context, c *server.Client) error {
		t, err := c.CreateTaskFromTemplate(ctx, args[0], scope, root, in)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s created from template (%s).\n", paint(styleCommand, t.ID), t.Name)
		return nil
	})
}
