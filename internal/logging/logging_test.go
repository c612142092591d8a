package logging

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewParsesLevel(t *testing.T) {
	logger := New(Options{Level: "debug"})
	if logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level got %s", logger.GetLevel())
	}
}

func TestNewFallsBackToInfo(t *testing.T) {
	logger := New(Options{Level: "chatty"})
	if logger.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level got %s", logger.GetLevel())
	}
}

func TestNewWithFileUsesRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.log")
	logger := New(Options{File: path, MaxBackups: 3})
	rotator, ok := logger.Out.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("expected lumberjack output, got %T", logger.Out)
	}
	if rotator.Filename != path || rotator.MaxSize != 100 || rotator.MaxBackups != 3 {
		t.Fatalf("unexpected rotation settings: %+v", rotator)
	}
}
