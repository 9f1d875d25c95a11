// Package logbook keeps the human-readable activity trail of one task.
package logbook

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Level represents the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logbook appends activity lines to a task's activity.log.
type Logbook struct {
	path string
	mu   sync.Mutex
}

// SharedLimit caps how many logbooks Shared keeps open at once.
const SharedLimit = 256

var open = mustCache(SharedLimit)

func mustCache(size int) *lru.Cache[string, *Logbook] {
	cache, err := lru.New[string, *Logbook](size)
	if err != nil {
		panic(err)
	}
	return cache
}

// New creates a logbook that writes to the provided path.
func New(path string) (*Logbook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &Logbook{path: path}, nil
}

// Shared returns the logbook for path from a bounded pool of recently used
// logbooks, so concurrent handler calls on a task share one mutex. Entries
// past SharedLimit are evicted least recently used first; each Append opens
// the file itself, so an evicted logbook stays usable. Failures to create
// the directory yield a nil (no-op) logbook.
func Shared(path string) *Logbook {
	if book, ok := open.Get(path); ok {
		return book
	}
	book, err := New(path)
	if err != nil {
		return nil
	}
	if prev, ok, _ := open.PeekOrAdd(path, book); ok {
		return prev
	}
	return book
}

// SharedLen reports how many logbooks Shared currently holds.
func SharedLen() int {
	return open.Len()
}

// Path returns the file backing this logbook.
func (l *Logbook) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes a single entry to the logbook.
func (l *Logbook) Append(level Level, message string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	line := fmt.Sprintf("%s %-5s %s\n",
		time.Now().UTC().Format(time.RFC3339),
		string(level),
		strings.Join(strings.Fields(message), " "),
	)
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	_, _ = file.WriteString(line)
}

// Tail returns up to maxLines of the most recent entries and the total
// number of entries in the file.
func (l *Logbook) Tail(maxLines int) ([]string, int) {
	if l == nil || maxLines <= 0 {
		return nil, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	file, err := os.Open(l.path)
	if err != nil {
		return nil, 0
	}
	defer file.Close()

	var lines []string
	total := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		total++
		lines = append(lines, scanner.Text())
		if len(lines) > maxLines {
			lines = lines[1:]
		}
	}
	return lines, total
}

// Info appends an informational entry.
func (l *Logbook) Info(format string, args ...any) {
	l.Append(LevelInfo, fmt.Sprintf(format, args...))
}

// Warn appends a warning entry.
func (l *Logbook) Warn(format string, args ...any) {
	l.Append(LevelWarn, fmt.Sprintf(format, args...))
}

// Error appends an error entry.
func (l *Logbook) Error(format string, args ...any) {
	l.Append(LevelError, fmt.Sprintf(format, args...))
}
