package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/taskgate/internal/workflow/resolver"
)

var (
	labelStyleReady      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleBlocked    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleActive     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleComplete   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	labelStyleIneligible = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	labelStyleDefault    = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
	detailTextStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

func renderReport(row boardRow) string {
	lines := []string{fmt.Sprintf("%s · %s · %s", row.Task.ID, row.Task.Title, friendlyLabel(string(row.Task.Status)))}
	for _, node := range row.Report.Nodes {
		lines = append(lines, renderNode(node))
	}
	return strings.Join(lines, "\n")
}

func renderNode(node resolver.Node) string {
	label := labelStyleForState(node.State).Render(friendlyLabel(string(node.State)))
	line := fmt.Sprintf("  %-9s [%s]", node.Tool, label)
	var details []string
	if node.Current != "" {
		details = append(details, "at "+node.Current)
	}
	if node.Reason != "" {
		details = append(details, node.Reason)
	}
	if len(node.BlockedBy) > 0 {
		details = append(details, "blocked by "+strings.Join(node.BlockedBy, ", "))
	}
	if len(details) > 0 {
		line += " " + detailTextStyle.Render(strings.Join(details, " · "))
	}
	return line
}

func labelStyleForState(state resolver.NodeState) lipgloss.Style {
	switch state {
	case resolver.NodeStateReady:
		return labelStyleReady
	case resolver.NodeStateBlocked:
		return labelStyleBlocked
	case resolver.NodeStateActive:
		return labelStyleActive
	case resolver.NodeStateComplete:
		return labelStyleComplete
	case resolver.NodeStateIneligible:
		return labelStyleIneligible
	default:
		return labelStyleDefault
	}
}

func friendlyLabel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	replacer := strings.NewReplacer("_", " ", "-", " ")
	words := strings.Fields(replacer.Replace(strings.ToLower(value)))
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}
