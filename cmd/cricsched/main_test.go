package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/derekprior/cricsched/internal/config"
	"github.com/derekprior/cricsched/internal/schedule"
	"github.com/derekprior/cricsched/internal/validator"
	"go.uber.org/zap"
)

func TestInitTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := runInit(path); err != nil {
		t.Fatalf("runInit() error: %v", err)
	}

	t.Run("refuses to overwrite", func(t *testing.T) {
		if err := runInit(path); err == nil {
			t.Error("expected an error for an existing file")
		}
	})

	cfg, err := config.LoadFromFile(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}

	t.Run("template schedules", func(t *testing.T) {
		r := schedule.Generate(context.Background(), cfg.Tournament, cfg.Teams, cfg.Venues, schedule.WithEngine(cfg.Engine))
		if !r.Success {
			t.Fatalf("template schedule failed: %s %v %v", r.Message, r.ConflictMessages(), r.Suggestions)
		}
		if r.MatchesScheduled() != 28 {
			t.Errorf("scheduled %d matches, want 28", r.MatchesScheduled())
		}
	})

	t.Run("generate and validate", func(t *testing.T) {
		out := filepath.Join(dir, "schedule.xlsx")
		if err := runGenerate(context.Background(), path, out, zap.NewNop()); err != nil {
			t.Fatalf("runGenerate() error: %v", err)
		}
		violations, err := validator.Validate(cfg, out)
		if err != nil {
			t.Fatalf("Validate() error: %v", err)
		}
		for _, v := range violations {
			if v.Type == "error" {
				t.Errorf("violation: %s", v.Message)
			}
		}
		if err := runValidate(path, out); err != nil {
			t.Errorf("runValidate() error: %v", err)
		}
	})
}

func TestTeamMetrics(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(configTemplate))
	if err != nil {
		t.Fatalf("LoadFromBytes() error: %v", err)
	}
	r := schedule.Generate(context.Background(), cfg.Tournament, cfg.Teams, cfg.Venues)
	if !r.Success {
		t.Fatalf("Generate() failed: %s", r.Message)
	}

	for _, m := range teamMetrics(cfg.Teams, r.Matches) {
		if m.matches != 7 || m.home+m.away != 7 {
			t.Errorf("%s: %d matches (%d home, %d away), want 7", m.label, m.matches, m.home, m.away)
		}
		if m.first == "" || m.last < m.first {
			t.Errorf("%s: first %q last %q", m.label, m.first, m.last)
		}
	}
}
