package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/workflow/engine"
	"github.com/kingrea/taskgate/internal/workflow/resolver"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(w io.Writer, res engine.Result) {
	state := activeStyle.Render(res.State)
	if res.Complete {
		state = okStyle.Render(res.State)
	}
	fmt.Fprintf(w, "%s %s · %s\n", titleStyle.Render(res.TaskID), res.Tool, state)
	fmt.Fprintln(w, res.Message)
	if res.NextAction != "" {
		fmt.Fprintf(w, "%s %s (%s)\n", mutedStyle.Render("next:"), res.NextAction, res.Actor())
	}
}

func printTasks(w io.Writer, tasks []task.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no tasks"))
		return
	}
	for _, t := range tasks {
		fmt.Fprintf(w, "%-12s %-14s %s\n", titleStyle.Render(t.ID), string(t.Status), t.Title)
	}
}

func printReport(w io.Writer, report resolver.Report) {
	fmt.Fprintf(w, "%s · %s\n", titleStyle.Render(report.TaskID), report.Status)
	for _, node := range report.Nodes {
		var label string
		switch node.State {
		case resolver.NodeStateActive:
			label = activeStyle.Render(string(node.State))
		case resolver.NodeStateReady, resolver.NodeStateComplete:
			label = okStyle.Render(string(node.State))
		case resolver.NodeStateBlocked:
			label = warningStyle.Render(string(node.State))
		default:
			label = mutedStyle.Render(string(node.State))
		}
		line := fmt.Sprintf("  %-10s %s", node.Tool, label)
		var notes []string
		if node.Current != "" {
			notes = append(notes, "at "+node.Current)
		}
		if node.Reason != "" {
			notes = append(notes, node.Reason)
		}
		if len(notes) > 0 {
			line += " " + mutedStyle.Render(strings.Join(notes, " · "))
		}
		fmt.Fprintln(w, line)
	}
}
