// Package config provides defaults and validation for models.AppSettings.
// Loading settings from a user settings file is left to the caller; this
// package only validates and defaults the structure the engine accepts,
// as a plain struct built up before being handed to the engine.
package config

import (
	"os"

	"lanxfer/internal/apperrors"
	"lanxfer/internal/models"
)

const (
	DefaultPort         = 53317
	DefaultMaxRetries   = 3
	DefaultRetryDelayMs = 500
	minPort             = 1024
	maxPort             = 65535
)

// Default returns a usable AppSettings for a fresh install.
func Default() models.AppSettings {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "lanxfer-device"
	}
	return models.AppSettings{
		Port:             DefaultPort,
		DeviceName:       hostname,
		DownloadDir:      "./downloads",
		TrustedHosts:     nil,
		ReceiveOnly:      false,
		MaxRetries:       DefaultMaxRetries,
		RetryDelayMs:     DefaultRetryDelayMs,
		InterfaceFilters: models.DefaultInterfaceFilters(),
	}
}

// Validate enforces the invariants AppSettings must hold before the engine
// accepts it.
func Validate(s models.AppSettings) error {
	if s.Port < minPort || s.Port > maxPort {
		return apperrors.New(apperrors.InvalidConfig, "port must be in 1024..=65535")
	}
	if s.MaxRetries < 0 {
		return apperrors.New(apperrors.InvalidConfig, "max_retries must be >= 0")
	}
	if s.RetryDelayMs < 0 {
		return apperrors.New(apperrors.InvalidConfig, "retry_delay_ms must be >= 0")
	}
	if s.DownloadDir == "" {
		return apperrors.New(apperrors.InvalidConfig, "download_dir must not be empty")
	}
	return nil
}
