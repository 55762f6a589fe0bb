package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"courseloop/internal/config"
	"courseloop/internal/orchestrator"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect course design tasks on a running gateway",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all tasks",
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task progress",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "plan",
				Usage:     "Print the assembled course plan",
				ArgsUsage: "<task_id>",
				Action:    runTasksPlan,
			},
		},
		DefaultCommand: "list",
	}
}

func gatewayURL(cmd *cli.Command, path string) string {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		cfg = config.Default()
	}
	return fmt.Sprintf("http://%s:%d%s", cfg.Gateway.Host, cfg.Gateway.Port, path)
}

func getJSON(url string, out any) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gateway responded %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runTasksList(_ context.Context, cmd *cli.Command) error {
	var list []orchestrator.Progress
	if err := getJSON(gatewayURL(cmd, "/api/tasks"), &list); err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTAGE\tSTAGE STATUS\tITERATIONS\tCONFLICTS")
	for _, p := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			p.TaskID,
			p.Status,
			p.CurrentStage,
			p.StageStatus,
			p.IterationCount,
			p.OpenConflicts,
		)
	}
	return w.Flush()
}

func runTasksShow(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: courseloop tasks show <task_id>")
	}

	var p orchestrator.Progress
	if err := getJSON(gatewayURL(cmd, "/api/tasks/"+taskID+"/progress"), &p); err != nil {
		return err
	}

	fmt.Printf("ID:            %s\n", p.TaskID)
	fmt.Printf("Status:        %s\n", p.Status)
	fmt.Printf("Stage:         %s\n", p.CurrentStage)
	fmt.Printf("Stage status:  %s\n", p.StageStatus)
	fmt.Printf("Iterations:    %d\n", p.IterationCount)
	fmt.Printf("Open conflicts: %d\n", p.OpenConflicts)
	if len(p.CompletedStages) > 0 {
		fmt.Println("\nCompleted stages:")
		for _, stage := range p.CompletedStages {
			fmt.Printf("  - %s\n", stage)
		}
	}
	return nil
}

func runTasksPlan(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: courseloop tasks plan <task_id>")
	}

	var plan orchestrator.Plan
	if err := getJSON(gatewayURL(cmd, "/api/tasks/"+taskID+"/plan"), &plan); err != nil {
		return err
	}

	fmt.Printf("Task %s (%s)\n", plan.TaskID, plan.Status)
	for _, section := range plan.Sections {
		fmt.Printf("\n## %s (%s)\n", section.Title, section.Stage)
		if section.CandidateID == "" {
			fmt.Println("  (not selected yet)")
			continue
		}
		fmt.Printf("  candidate: %s\n", section.CandidateID)
		if section.Content != nil {
			data, err := json.MarshalIndent(section.Content, "  ", "  ")
			if err == nil {
				fmt.Printf("  %s\n", data)
			}
		}
	}
	return nil
}
