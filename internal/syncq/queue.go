// Package syncq is the empctl outbox: writes that failed before reaching the
// API are kept on disk with their idempotency key and replayed by `empctl sync`.
package syncq

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

type Command struct {
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

func queuePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".empctl")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "queue.json"), nil
}

func Load() ([]Command, error) {
	path, err := queuePath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func Save(commands []Command) error {
	path, err := queuePath()
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}

// Sender delivers one queued command.
type Sender func(ctx context.Context, cmd Command) error

// Result summarizes one replay pass.
type Result struct {
	Sent      int
	Remaining int
}

// Replay sends queued commands in order. A command is dropped from the queue
// when send succeeds or done(err) reports it as already applied. Replay stops
// at the first other failure and keeps it, with everything after it, queued.
func Replay(ctx context.Context, send Sender, done func(error) bool) (Result, error) {
	commands, err := Load()
	if err != nil {
		return Result{}, err
	}
	var res Result
	for i, cmd := range commands {
		if err := send(ctx, cmd); err != nil && (done == nil || !done(err)) {
			rest := commands[i:]
			res.Remaining = len(rest)
			if saveErr := Save(rest); saveErr != nil {
				return res, saveErr
			}
			return res, err
		}
		res.Sent++
	}
	return res, Save([]Command{})
}
