// Package chat persists per-chat state on disk. Layout per chat:
//
//	chats/<name>/metadata.json
//	chats/<name>/history.json
//	chats/<name>/scratchpad.json
//	chats/<name>/memory/          (the chat's L3 index)
//
// Every file write is temp-then-rename, so a crash leaves either the old
// or the new state, never a torn file.
package chat

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/musedev/muse/entity"
	"github.com/musedev/muse/errors"
)

type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create chats dir %s", dir)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// New returns a fresh in-memory chat; nothing touches disk until Save.
func (s *Store) New(name, description string) *entity.Chat {
	now := time.Now()
	return &entity.Chat{
		Meta: entity.ChatMetadata{
			ID:          uuid.NewString(),
			Name:        name,
			Description: description,
			CreatedAt:   now,
			LastSaved:   now,
		},
	}
}

func (s *Store) chatDir(name string) string {
	return filepath.Join(s.dir, name)
}

// MemoryDir is where the chat's L3 index lives.
func (s *Store) MemoryDir(name string) string {
	return filepath.Join(s.chatDir(name), "memory")
}

func (s *Store) Exists(name string) bool {
	_, err := os.Stat(filepath.Join(s.chatDir(name), "metadata.json"))
	return err == nil
}

// Save writes metadata, history and scratchpad atomically at file
// granularity. A failed save leaves live state untouched.
func (s *Store) Save(chat *entity.Chat) error {
	dir := s.chatDir(chat.Meta.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create chat dir %s", dir)
	}

	chat.Meta.LastSaved = time.Now()
	chat.Meta.MessagesCount = len(chat.History)

	if err := writeJSONAtomic(filepath.Join(dir, "metadata.json"), chat.Meta); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, "history.json"), chat.History); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, "scratchpad.json"), chat.Scratchpad); err != nil {
		return err
	}

	s.logger.Info("chat saved",
		slog.String("chat", chat.Meta.Name),
		slog.Int("messages", chat.Meta.MessagesCount))
	return nil
}

// Load reads a saved chat from disk and returns it; the caller swaps it in
// as live state.
func (s *Store) Load(name string) (*entity.Chat, error) {
	dir := s.chatDir(name)
	if !s.Exists(name) {
		return nil, errors.Wrapf(errors.ErrNotFound, "chat '%s'", name)
	}

	var chat entity.Chat
	if err := readJSON(filepath.Join(dir, "metadata.json"), &chat.Meta); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, "history.json"), &chat.History); err != nil {
		return nil, err
	}
	if err := readJSON(filepath.Join(dir, "scratchpad.json"), &chat.Scratchpad); err != nil {
		return nil, err
	}

	s.logger.Info("chat loaded",
		slog.String("chat", name),
		slog.Int("messages", len(chat.History)))
	return &chat, nil
}

// List returns saved chats, most recently saved first.
func (s *Store) List() ([]entity.ChatMetadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read chats dir")
	}

	var chats []entity.ChatMetadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var meta entity.ChatMetadata
		if err := readJSON(filepath.Join(s.dir, entry.Name(), "metadata.json"), &meta); err != nil {
			continue
		}
		chats = append(chats, meta)
	}

	sort.Slice(chats, func(i, j int) bool {
		return chats[i].LastSaved.After(chats[j].LastSaved)
	})
	return chats, nil
}

// Delete removes a saved chat. Deleting a chat that does not exist is a
// no-op; refusing to delete the active chat is the agent's job.
func (s *Store) Delete(name string) error {
	dir := s.chatDir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "failed to delete chat '%s'", name)
	}
	s.logger.Info("chat deleted", slog.String("chat", name))
	return nil
}

func writeJSONAtomic(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s", filepath.Base(path))
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "failed to create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to sync %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", path)
	}

	return errors.Wrapf(os.Rename(tmp.Name(), path), "failed to rename into %s", path)
}

func readJSON(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	return errors.Wrapf(json.Unmarshal(raw, v), "failed to parse %s", path)
}
