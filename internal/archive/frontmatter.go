package archive

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/taskgate/internal/task"
)

var (
	// ErrMissingFrontMatter indicates the document did not start with a YAML fence.
	ErrMissingFrontMatter = errors.New("archive: missing frontmatter")
	// ErrMalformedFrontMatter indicates the YAML block could not be parsed.
	ErrMalformedFrontMatter = errors.New("archive: malformed frontmatter")
)

const timeLayout = time.RFC3339Nano

type envelope struct {
	Taskgate snapshotMeta `yaml:"taskgate"`
}

type snapshotMeta struct {
	Task       string `yaml:"task"`
	Tool       string `yaml:"tool"`
	ExitStatus string `yaml:"exit_status,omitempty"`
	Created    string `yaml:"created"`
	Checksum   string `yaml:"checksum"`
}

// ParseFrontMatter extracts the snapshot metadata and body from a document
// that starts with `---` YAML fences.
func ParseFrontMatter(content []byte) (Entry, []byte, error) {
	if len(content) == 0 {
		return Entry{}, nil, ErrMissingFrontMatter
	}
	normalized := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return Entry{}, nil, ErrMissingFrontMatter
	}
	parts := bytes.SplitN(normalized[4:], []byte("\n---\n"), 2)
	if len(parts) < 2 {
		return Entry{}, nil, ErrMalformedFrontMatter
	}
	var env envelope
	if err := yaml.Unmarshal(parts[0], &env); err != nil {
		return Entry{}, nil, fmt.Errorf("%w: %v", ErrMalformedFrontMatter, err)
	}
	meta := env.Taskgate
	if meta.Task == "" || meta.Tool == "" {
		return Entry{}, nil, fmt.Errorf("%w: task and tool are required", ErrMalformedFrontMatter)
	}
	created, err := time.Parse(timeLayout, meta.Created)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("%w: created: %v", ErrMalformedFrontMatter, err)
	}
	entry := Entry{
		TaskID:     meta.Task,
		Tool:       meta.Tool,
		ExitStatus: task.Status(meta.ExitStatus),
		CreatedAt:  created,
		Checksum:   meta.Checksum,
	}
	return entry, bytes.TrimLeft(parts[1], "\n"), nil
}

// WriteFrontMatter renders entry metadata + body with YAML fences.
func WriteFrontMatter(entry Entry, body []byte) ([]byte, error) {
	if entry.TaskID == "" || entry.Tool == "" {
		return nil, fmt.Errorf("archive: entry missing task or tool")
	}
	data, err := yaml.Marshal(envelope{Taskgate: snapshotMeta{
		Task:       entry.TaskID,
		Tool:       entry.Tool,
		ExitStatus: string(entry.ExitStatus),
		Created:    entry.CreatedAt.UTC().Format(timeLayout),
		Checksum:   entry.Checksum,
	}})
	if err != nil {
		return nil, fmt.Errorf("archive: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(bytes.TrimRight(data, "\n"))
	buf.WriteString("\n---\n\n")
	buf.Write(body)
	return buf.Bytes(), nil
}
