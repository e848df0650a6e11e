package config

import (
	"testing"

	"lanxfer/internal/apperrors"
	"lanxfer/internal/models"
)

func TestDefaultPassesValidate(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("Default() should validate cleanly, got %v", err)
	}
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	s := Default()
	s.Port = 80
	err := Validate(s)
	if !apperrors.Is(err, apperrors.InvalidConfig) {
		t.Errorf("expected InvalidConfig for port 80, got %v", err)
	}
}

func TestValidateRejectsEmptyDownloadDir(t *testing.T) {
	s := Default()
	s.DownloadDir = ""
	if err := Validate(s); !apperrors.Is(err, apperrors.InvalidConfig) {
		t.Errorf("expected InvalidConfig for empty download dir, got %v", err)
	}
}

func TestValidateRejectsNegativeRetrySettings(t *testing.T) {
	cases := []models.AppSettings{
		withMaxRetries(Default(), -1),
		withRetryDelay(Default(), -1),
	}
	for _, s := range cases {
		if err := Validate(s); !apperrors.Is(err, apperrors.InvalidConfig) {
			t.Errorf("expected InvalidConfig for %+v, got %v", s, err)
		}
	}
}

func withMaxRetries(s models.AppSettings, n int) models.AppSettings {
	s.MaxRetries = n
	return s
}

func withRetryDelay(s models.AppSettings, n int) models.AppSettings {
	s.RetryDelayMs = n
	return s
}
