package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/caseforge/caseforge/internal/log"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"regression suite.xlsx", "regression_suite.xlsx"},
		{"../../etc/passwd", "passwd"},
		{"historia de prueba (v2).csv", "historia_de_prueba__v2_.csv"},
		{"plain.csv", "plain.csv"},
		{"", "upload"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOriginalObjectPath_Deterministic(t *testing.T) {
	a := OriginalObjectPath("org-1", "proj-1", "batch-1", "cases.csv")
	b := OriginalObjectPath("org-1", "proj-1", "batch-1", "cases.csv")
	if a != b {
		t.Errorf("paths differ for identical inputs: %q vs %q", a, b)
	}

	want := "org/org-1/project/proj-1/batch/batch-1/original/cases.csv"
	if a != want {
		t.Errorf("OriginalObjectPath = %q, want %q", a, want)
	}
}

func TestLocalStore_PutGetRoundtrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("NewLocalStore error = %v", err)
	}

	ctx := context.Background()
	path := OriginalObjectPath("org-1", "proj-1", "batch-1", "cases.csv")
	payload := []byte("Title,JiraKey\nLogin works,PROJ-1\n")

	uri, err := store.Put(ctx, path, payload, "text/csv")
	if err != nil {
		t.Fatalf("Put error = %v", err)
	}
	if uri == "" {
		t.Error("Put returned empty URI")
	}

	got, err := store.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("Get = %q, want %q", got, payload)
	}
}

func TestLocalStore_PutOverwrites(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("NewLocalStore error = %v", err)
	}

	ctx := context.Background()
	path := OriginalObjectPath("org-1", "proj-1", "batch-1", "cases.csv")

	if _, err := store.Put(ctx, path, []byte("first"), "text/csv"); err != nil {
		t.Fatalf("first Put error = %v", err)
	}
	if _, err := store.Put(ctx, path, []byte("second"), "text/csv"); err != nil {
		t.Fatalf("second Put error = %v", err)
	}

	got, err := store.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get error = %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Get after overwrite = %q, want %q", got, "second")
	}
}

func TestLocalStore_GetMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), log.NewNop())
	if err != nil {
		t.Fatalf("NewLocalStore error = %v", err)
	}

	_, err = store.Get(context.Background(), "org/x/project/y/batch/z/original/gone.csv")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing object = %v, want ErrNotFound", err)
	}
}
