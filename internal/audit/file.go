package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileSink writes audit entries as JSON lines, one file per conversation.
// It is a best-effort convenience sink; the durable store stays primary.
type FileSink struct {
	mu  sync.Mutex
	dir string
}

// NewFileSink creates the sink, making sure dir exists.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

type fileRecord struct {
	Meta  Meta   `json:"meta"`
	Entry *Entry `json:"entry"`
}

// Append writes one entry line.
func (f *FileSink) Append(meta Meta, entry *Entry) error {
	raw, err := json.Marshal(fileRecord{Meta: meta, Entry: entry})
	if err != nil {
		return fmt.Errorf("marshal audit line: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.path(meta.TenantID, meta.ConversationID)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("write audit line: %w", err)
	}
	return nil
}

// Read loads the conversation's entries from disk. The parser is tolerant:
// lines that are not valid JSON or do not match the expected shape are
// dropped, never propagated. This supports environments running without the
// durable store.
func (f *FileSink) Read(tenantID, conversationID string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, err := os.Open(f.path(tenantID, conversationID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec fileRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.Entry == nil || rec.Entry.Kind == "" {
			continue
		}
		entries = append(entries, *rec.Entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan audit file: %w", err)
	}
	return entries, nil
}

func (f *FileSink) path(tenantID, conversationID string) string {
	name := sanitize(tenantID) + "__" + sanitize(conversationID) + ".jsonl"
	return filepath.Join(f.dir, name)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
