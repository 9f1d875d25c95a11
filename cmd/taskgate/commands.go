package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/taskgate/internal/config"
	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/tool"
	"github.com/kingrea/taskgate/internal/workflow"
	"github.com/kingrea/taskgate/internal/workflow/engine"
)

func (c *cli) newInitCommand() *cobra.Command {
	var writeCatalogue bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the .taskgate directory in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := c.projectDir()
			if err != nil {
				return err
			}
			if err := config.InitDir(dir); err != nil {
				return err
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if writeCatalogue {
				path := filepath.Join(cfg.TaskgateDir, "tools.yaml")
				if err := os.WriteFile(path, tool.BuiltinCatalogueYAML(), 0o644); err != nil {
					return fmt.Errorf("write catalogue: %w", err)
				}
				cfg.Project.Tools.Catalogue = path
				if err := cfg.Save(); err != nil {
					return err
				}
				fmt.Fprintf(out, "wrote %s\n", path)
			}
			fmt.Fprintf(out, "%s %s\n", okStyle.Render("initialized"), cfg.TaskgateDir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&writeCatalogue, "write-catalogue", false, "copy the built-in tool catalogue into .taskgate/tools.yaml")
	return cmd
}

func (c *cli) newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			defs := rt.handler.Registry().All()
			out := cmd.OutOrStdout()
			if c.jsonOutput() {
				names := make([]map[string]any, 0, len(defs))
				for _, def := range defs {
					names = append(names, map[string]any{
						"name":           def.Name,
						"shape":          def.Shape(),
						"initial_state":  def.Initial(),
						"terminal_state": def.TerminalState,
						"entry_statuses": def.EntryStatuses,
						"exit_status":    def.ExitStatus,
						"depends_on":     def.DependsOn,
					})
				}
				return writeJSON(out, names)
			}
			for _, def := range defs {
				fmt.Fprintf(out, "%s %s\n", titleStyle.Render(def.Name), mutedStyle.Render(def.Description))
				fmt.Fprintf(out, "  states: %s -> %s\n", strings.Join(def.Graph().States, ", "), def.TerminalState)
				fmt.Fprintf(out, "  entry: %s  exit: %s\n", joinStatuses(def.EntryStatuses), def.ExitStatus)
				if def.DependsOn != "" {
					fmt.Fprintf(out, "  depends on: %s\n", def.DependsOn)
				}
			}
			return nil
		},
	}
}

func (c *cli) newTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create and list tasks",
	}
	var (
		id, title, description, status string
		labels                         []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			t := task.Task{ID: id, Title: title, Description: description, Labels: labels}
			if status != "" {
				if t.Status, err = task.ParseStatus(status); err != nil {
					return err
				}
			}
			created, err := rt.tasks.Create(cmd.Context(), t)
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", okStyle.Render("created"), created.ID, created.Status)
			return nil
		},
	}
	create.Flags().StringVar(&id, "id", "", "task id (generated when empty)")
	create.Flags().StringVar(&title, "title", "", "task title")
	create.Flags().StringVar(&description, "description", "", "task description")
	create.Flags().StringVar(&status, "status", "", "initial status (defaults to backlog)")
	create.Flags().StringSliceVar(&labels, "label", nil, "label (repeatable)")
	_ = create.MarkFlagRequired("title")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			tasks, err := rt.tasks.List(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), tasks)
			}
			printTasks(cmd.OutOrStdout(), tasks)
			return nil
		},
	}
	cmd.AddCommand(create, list)
	return cmd
}

func (c *cli) newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task>",
		Short: "Show which tools a task can enter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			report, err := rt.handler.Report(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func (c *cli) newRecordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "record <task>",
		Short: "Print the persisted workflow record of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			rec, err := rt.handler.Record(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func (c *cli) newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <task>",
		Short: "List archived tool outputs of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			entries, err := rt.archive.List(args[0])
			if err != nil {
				return err
			}
			if c.jsonOutput() {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("no archived outputs"))
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-9s %-14s %s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Tool, e.ExitStatus, mutedStyle.Render(e.Path))
			}
			return nil
		},
	}
}

func (c *cli) newExecuteCommand() *cobra.Command {
	var (
		trigger   string
		sets      []string
		inputFile string
	)
	cmd := &cobra.Command{
		Use:   "execute <task> <tool>",
		Short: "Enter or resume a tool, optionally firing a trigger",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs(inputFile, sets)
			if err != nil {
				return err
			}
			if trigger != "" {
				inputs[engine.InputTrigger] = trigger
			}
			return c.run(cmd, args[0], args[1], inputs)
		},
	}
	cmd.Flags().StringVarP(&trigger, "trigger", "t", "", "trigger to fire on the active instance")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "context input key=value (repeatable; values are YAML)")
	cmd.Flags().StringVar(&inputFile, "inputs", "", "YAML file of context inputs")
	return cmd
}

func (c *cli) newSubmitCommand() *cobra.Command {
	var sets []string
	cmd := &cobra.Command{
		Use:   "submit <task> <tool> [state]",
		Short: "Submit the current (or named) work step for AI review",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseInputs("", sets)
			if err != nil {
				return err
			}
			state := ""
			if len(args) == 3 {
				state = args[2]
			} else {
				rt, err := c.open()
				if err != nil {
					return err
				}
				rec, err := rt.handler.Record(cmd.Context(), args[0])
				rt.Close()
				if err != nil {
					return err
				}
				active, ok := rec.ActiveFor(args[1])
				if !ok {
					return fmt.Errorf("%s is not active on %s", args[1], args[0])
				}
				state = active.State
			}
			work, stage := workflow.ReviewStage(state)
			if stage != workflow.StageWork {
				return fmt.Errorf("%s is awaiting %s; approve or revise it instead", work, strings.ReplaceAll(string(stage), "_", " "))
			}
			inputs[engine.InputTrigger] = workflow.SubmitTrigger(work)
			return c.run(cmd, args[0], args[1], inputs)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "context input key=value (repeatable; values are YAML)")
	return cmd
}

func (c *cli) newApproveCommand() *cobra.Command {
	var ai bool
	cmd := &cobra.Command{
		Use:   "approve <task> <tool>",
		Short: "Approve the current review step (human review unless --ai)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			trigger := workflow.TriggerHumanApprove
			if ai {
				trigger = workflow.TriggerAIApprove
			}
			return c.run(cmd, args[0], args[1], map[string]any{engine.InputTrigger: trigger})
		},
	}
	cmd.Flags().BoolVar(&ai, "ai", false, "record the AI reviewer's approval")
	return cmd
}

func (c *cli) newTriggerCommand(name, short, trigger string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <task> <tool>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args[0], args[1], map[string]any{engine.InputTrigger: trigger})
		},
	}
}

func (c *cli) newRestartCommand() *cobra.Command {
	var (
		state, status string
		keep          []string
	)
	cmd := &cobra.Command{
		Use:   "restart <task> <tool>",
		Short: "Restart a tool at one of its work states",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.RestartRequest{TaskID: args[0], Tool: args[1], State: state, Keep: keep}
			if status != "" {
				parsed, err := task.ParseStatus(status)
				if err != nil {
					return err
				}
				req.Status = parsed
			}
			rt, err := c.open()
			if err != nil {
				return err
			}
			defer rt.Close()
			res, err := rt.handler.Restart(cmd.Context(), req)
			if err != nil {
				return err
			}
			return c.printResult(cmd, res)
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "work state to restart at (defaults to the initial state)")
	cmd.Flags().StringVar(&status, "status", "", "task status to set")
	cmd.Flags().StringSliceVar(&keep, "keep", nil, "completed outputs to keep")
	return cmd
}

func (c *cli) run(cmd *cobra.Command, taskID, toolName string, inputs map[string]any) error {
	rt, err := c.open()
	if err != nil {
		return err
	}
	defer rt.Close()
	res, err := rt.handler.Execute(cmd.Context(), taskID, toolName, inputs)
	if err != nil {
		return err
	}
	return c.printResult(cmd, res)
}

func (c *cli) printResult(cmd *cobra.Command, res engine.Result) error {
	if c.jsonOutput() {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

// parseInputs merges a YAML inputs file with key=value pairs. Values are
// decoded as YAML so numbers and booleans keep their types.
func parseInputs(path string, sets []string) (map[string]any, error) {
	inputs := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read inputs: %w", err)
		}
		if err := yaml.Unmarshal(data, &inputs); err != nil {
			return nil, fmt.Errorf("parse inputs %s: %w", path, err)
		}
		if inputs == nil {
			inputs = map[string]any{}
		}
	}
	for _, pair := range sets {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("--set %q: expected key=value", pair)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}
		inputs[key] = value
	}
	return inputs, nil
}

func joinStatuses(values []task.Status) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
