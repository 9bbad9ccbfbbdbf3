package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func TestInit_JSON(t *testing.T) {
	viper.Set(LevelKey, "warn")
	viper.Set(FormatKey, "json")
	t.Cleanup(func() {
		viper.Set(LevelKey, nil)
		viper.Set(FormatKey, nil)
		InitDefault()
	})

	var buf bytes.Buffer
	Init(&buf)

	log.Info().Msg("hidden")
	log.Warn().Str("k", "v").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info message logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"k":"v"`) || !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("expected json warn entry, got: %s", out)
	}
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Errorf("expected warn level, got %s", zerolog.GlobalLevel())
	}
}

func TestInit_UnknownLevelFallsBackToInfo(t *testing.T) {
	viper.Set(LevelKey, "chatty")
	t.Cleanup(func() {
		viper.Set(LevelKey, nil)
		InitDefault()
	})

	Init(&bytes.Buffer{})
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("expected info level, got %s", zerolog.GlobalLevel())
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("expected empty correlation id, got %q", got)
	}
	ctx := WithCorrelationID(context.Background(), "c0ffee")
	if got := CorrelationID(ctx); got != "c0ffee" {
		t.Errorf("expected c0ffee, got %q", got)
	}
}

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) Info(format string, _ ...any)  { r.lines = append(r.lines, "info:"+format) }
func (r *recordingLogger) Warn(format string, _ ...any)  { r.lines = append(r.lines, "warn:"+format) }
func (r *recordingLogger) Error(format string, _ ...any) { r.lines = append(r.lines, "error:"+format) }

func TestTee(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	tee := Tee{a, nil, b}
	tee.Info("one")
	tee.Error("two")

	want := []string{"info:one", "error:two"}
	for _, r := range []*recordingLogger{a, b} {
		if diff := cmp.Diff(want, r.lines); diff != "" {
			t.Errorf("Tee lines mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestLines(t *testing.T) {
	var got []string
	l := Lines(func(level zerolog.Level, msg string) {
		got = append(got, level.String()+" "+msg)
	})
	l.Info("swept %d sessions", 3)
	l.Warn("slow")
	l.Error("failed: %v", "boom")

	want := []string{"info swept 3 sessions", "warn slow", "error failed: boom"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Lines mismatch (-want +got):\n%s", diff)
	}
}

func TestToZerolog(t *testing.T) {
	var buf bytes.Buffer
	ToZerolog(zerolog.New(&buf)).Warn("reloaded %s", "config")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) || !strings.Contains(out, `"message":"reloaded config"`) {
		t.Errorf("unexpected zerolog output: %s", out)
	}
}
