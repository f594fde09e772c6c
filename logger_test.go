package ports

import (
	"context"
	"log/slog"
	"testing"
)

func TestInitLoggerSetsDefault(t *testing.T) {
	InitLogger(slog.LevelWarn)
	ctx := context.Background()
	if !slog.Default().Enabled(ctx, slog.LevelWarn) {
		t.Fatalf("expected default logger enabled at LevelWarn")
	}
	if slog.Default().Enabled(ctx, slog.LevelInfo) {
		t.Fatalf("expected default logger disabled below LevelWarn")
	}
}
