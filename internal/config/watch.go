package config

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch hot-reloads the config file at path until ctx is done. Edits are
// debounced; a reload that fails to load or validate keeps the running config.
func Watch(ctx context.Context, path string) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("config watch initial read failed", "path", path, "error", err)
		return
	}

	var debounce *time.Timer
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		if filepath.Clean(e.Name) != filepath.Clean(path) {
			return
		}
		if debounce != nil {
			debounce.Stop()
		}
		debounce = time.AfterFunc(200*time.Millisecond, func() { _ = reload(path) })
	})
	v.WatchConfig()

	<-ctx.Done()
	if debounce != nil {
		debounce.Stop()
	}
}

func reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		slog.Warn("config hot-reload load failed", "path", path, "error", err)
		return err
	}
	prev := Get()
	if err := validateReload(prev, cfg); err != nil {
		slog.Warn("config hot-reload rejected", "path", path, "error", err)
		return err
	}
	if prev != nil && prev.Gateway.Port != cfg.Gateway.Port {
		slog.Warn("gateway port change needs a restart", "running", prev.Gateway.Port, "configured", cfg.Gateway.Port)
	}
	Set(cfg)
	notifyReload(cfg)
	slog.Info("config hot-reloaded", "path", path, "versionID", cfg.Voiceflow.VersionID)
	return nil
}

// validateReload rejects a reloaded file that drops a credential the running
// config has, which is what a half-written file or an unset ${VAR} looks like.
func validateReload(prev, next *Config) error {
	if prev == nil {
		return nil
	}
	var errs []error
	if prev.Voiceflow.APIKey != "" && next.Voiceflow.APIKey == "" {
		errs = append(errs, errors.New("voiceflow.apiKey is empty"))
	}
	if prev.Voiceflow.VersionID != "" && next.Voiceflow.VersionID == "" {
		errs = append(errs, errors.New("voiceflow.versionID is empty"))
	}
	if prev.WhatsApp.Token != "" && next.WhatsApp.Token == "" {
		errs = append(errs, errors.New("whatsapp.token is empty"))
	}
	if prev.WhatsApp.VerifyToken != "" && next.WhatsApp.VerifyToken == "" {
		errs = append(errs, errors.New("whatsapp.verifyToken is empty"))
	}
	return errors.Join(errs...)
}
