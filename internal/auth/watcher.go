package auth

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the token file on the real filesystem and invokes onChange
// whenever the credential is written or removed (e.g. by a login or logout in
// another process). It blocks until the context is canceled.
//
// The watch is registered on the parent directory because editors and atomic
// writers replace the file rather than modifying it in place.
func (s *TokenStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := slog.Default().With("component", "token_watcher")
	logger.Debug("Watching credential file", "path", s.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != s.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				logger.Info("Credential file changed", "op", event.Op.String())
				onChange()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("Credential watch error", "error", err)
		}
	}
}
