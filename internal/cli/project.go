package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage project roots",
	Long: `Manage the project roots the daemon scans for project scoped tasks.

Each project keeps its tasks under <root>/.openloaf/tasks/.`,
}

var projectAddCmd = &cobra.Command{
	Use:   "add [path]",
	Short: "Register a project root (default: current directory)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runProjectAdd,
}

var projectListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered projects",
	Args:    cobra.NoArgs,
	RunE:    runProjectList,
}

var projectRemoveCmd = &cobra.Command{
	Use:     "remove [path]",
	Aliases: []string{"rm"},
	Short:   "Unregister a project root; its tasks stay on disk",
	Args:    cobra.MaximumNArgs(1),
	RunE:    runProjectRemove,
}

var projectName string

func init() {
	projectAddCmd.Flags().StringVarP(&projectName, "name", "n", "", "Display name (default: directory name)")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectRemoveCmd)
}

func pathArg(args []string) (string, error) {
	if len(args) == 1 {
		return filepath.Abs(args[0])
	}
	return os.Getwd()
}

func runProjectAdd(cmd *cobra.Command, args []string) error {
	path, err := pathArg(args)
	if err != nil {
		return err
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	entry, err := config.RegisterProject(projectName, path)
	if err != nil {
		return err
	}
	notifyDaemon()

	fmt.Printf("Project '%s' registered.\n", entry.Name)
	printField("Path", entry.Path)
	fmt.Println("\nNext steps:")
	fmt.Printf("  - Run %s to add a task\n", paint(styleCommand, "openloaf task add --project "+entry.Path))
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	index, err := config.LoadProjectsIndex()
	if err != nil {
		return err
	}
	if len(index.Projects) == 0 {
		fmt.Println("No projects. Run " + paint(styleCommand, "openloaf project add") + " in a project directory.")
		return nil
	}
	for _, p := range index.Projects {
		missing := ""
		if !config.RootExists(p.Path) {
			missing = paint(styleError, "  (missing)")
		}
		fmt.Printf("  %-20s %s%s\n", p.Name, paint(styleHint, p.Path), missing)
	}
	return nil
}

func runProjectRemove(cmd *cobra.Command, args []string) error {
	path, err := pathArg(args)
	if err != nil {
		return err
	}
	removed, err := config.UnregisterProject(path)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("%s is not a registered project", path)
	}
	notifyDaemon()
	fmt.Printf("Project %s unregistered.\n", path)
	return nil
}

// notifyDaemon asks a running daemon to reload the projects index. The file
// watcher does the same, so failures are ignored.
func notifyDaemon() {
	running, _, err := config.IsDaemonRunning()
	if err != nil || !running {
		return
	}
	c, err := connectDaemon()
	if err != nil {
		return
	}
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	_, _ = c.RefreshProjects(ctx)
}
