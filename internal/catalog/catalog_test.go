package catalog

import (
	"context"
	"errors"
	"testing"

	"checkline/internal/config"
	"checkline/internal/domain"
)

func TestLoadFromConfig(t *testing.T) {
	cfg := config.Default()
	cat, err := Load(context.Background(), ConfigSource{Config: cfg})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Len() != len(cfg.Controls()) {
		t.Fatalf("got %d controls, want %d", cat.Len(), len(cfg.Controls()))
	}
	ctrl, ok := cat.Get("AC-1")
	if !ok {
		t.Fatal("AC-1 not found")
	}
	if ctrl.Section != "Access Control" {
		t.Fatalf("AC-1 section = %q", ctrl.Section)
	}
}

func TestGroupBySectionPreservesOrder(t *testing.T) {
	cat := New([]domain.Control{
		{ID: "b-1", Section: "B"},
		{ID: "a-1", Section: "A"},
		{ID: "b-2", Section: "B"},
	})
	groups := cat.GroupBySection()
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Name != "B" || groups[1].Name != "A" {
		t.Fatalf("section order = %s, %s; want B, A", groups[0].Name, groups[1].Name)
	}
	if len(groups[0].Controls) != 2 {
		t.Fatalf("section B has %d controls, want 2", len(groups[0].Controls))
	}
}

func TestLoadEmptySource(t *testing.T) {
	src := sourceFunc(func(ctx context.Context) ([]domain.Control, error) {
		return nil, nil
	})
	_, err := Load(context.Background(), src)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

type sourceFunc func(ctx context.Context) ([]domain.Control, error)

func (f sourceFunc) Load(ctx context.Context) ([]domain.Control, error) { return f(ctx) }
