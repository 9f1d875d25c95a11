package logbook

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "T-1", "activity.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestAppendKeepsEntriesOnOneLine(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "activity.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.Warn("execute plan rejected:\n  task status is done")
	lines, total := book.Tail(10)
	if total != 1 {
		t.Fatalf("expected one entry, got %d: %v", total, lines)
	}
	if !strings.Contains(lines[0], "WARN") || !strings.Contains(lines[0], "rejected: task status is done") {
		t.Fatalf("unexpected entry %q", lines[0])
	}
}

func TestSharedReturnsSameLogbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.log")
	if Shared(path) != Shared(path) {
		t.Fatalf("expected shared logbook per path")
	}
	var nilBook *Logbook
	nilBook.Info("ignored")
	if lines, total := nilBook.Tail(3); lines != nil || total != 0 {
		t.Fatalf("nil logbook should be empty")
	}
}

func TestSharedPoolIsBounded(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "T-0", "activity.log")
	book := Shared(first)
	require.NotNil(t, book)
	for i := 1; i <= SharedLimit+10; i++ {
		require.NotNil(t, Shared(filepath.Join(dir, fmt.Sprintf("T-%d", i), "activity.log")))
	}
	require.LessOrEqual(t, SharedLen(), SharedLimit)

	// An evicted logbook still writes to its file.
	book.Info("after eviction")
	lines, total := Shared(first).Tail(1)
	require.Equal(t, 1, total)
	require.Contains(t, lines[0], "after eviction")
}
