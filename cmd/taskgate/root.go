package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kingrea/taskgate/internal/failure"
	"github.com/kingrea/taskgate/internal/workflow"
)

const envPrefix = "TASKGATE"

// cli carries flag state shared by every subcommand.
type cli struct {
	v *viper.Viper
}

// NewRootCommand builds the taskgate command tree.
func NewRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "taskgate",
		Short: "Review-gated tool workflows for tasks",
		Long: `taskgate moves tasks through a catalogue of tools. Every work step of a
tool is submitted, approved by an AI reviewer and then by a human before the
next step opens; completing a tool moves the task to its next status.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringP("project", "p", "", "project directory holding .taskgate (defaults to cwd)")
	flags.String("catalogue", "", "tool catalogue YAML (defaults to the configured or built-in one)")
	flags.Duration("lock-timeout", 0, "how long to wait for a task lock")
	flags.Bool("json", false, "print machine-readable JSON")
	_ = c.v.BindPFlags(flags)

	root.AddCommand(
		c.newInitCommand(),
		c.newToolsCommand(),
		c.newTaskCommand(),
		c.newStatusCommand(),
		c.newRecordCommand(),
		c.newHistoryCommand(),
		c.newExecuteCommand(),
		c.newSubmitCommand(),
		c.newApproveCommand(),
		c.newTriggerCommand("revise", "Send the current review step back for revision", workflow.TriggerRequestRevision),
		c.newTriggerCommand("dispatch", "Dispatch a tool waiting in its dispatch state", workflow.TriggerDispatch),
		c.newRestartCommand(),
		c.newBoardCommand(),
		c.newServeCommand(),
	)
	return root
}

func (c *cli) projectDir() (string, error) {
	if dir := strings.TrimSpace(c.v.GetString("project")); dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

func (c *cli) open() (*runtime, error) {
	dir, err := c.projectDir()
	if err != nil {
		return nil, fmt.Errorf("determine project dir: %w", err)
	}
	return openRuntime(runtimeOptions{
		projectDir:  dir,
		catalogue:   c.v.GetString("catalogue"),
		lockTimeout: c.v.GetDuration("lock-timeout"),
	})
}

func (c *cli) jsonOutput() bool {
	return c.v.GetBool("json")
}

// exitCode gives lock contention its own code so scripts can retry.
func exitCode(err error) int {
	var fe *failure.Error
	if errors.As(err, &fe) && fe.Kind == failure.KindLockTimeout {
		return 75
	}
	return 1
}
