package prefs

import (
	"path/filepath"
	"reflect"
	"testing"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "prefs.sqlite")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open prefs: %v", err)
	}
	return s, path
}

func TestGetMissingKey(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	v, ok, err := s.Get("ui.theme")
	if err != nil || ok || v != "" {
		t.Fatalf("expected missing key, got %q ok=%v err=%v", v, ok, err)
	}
}

func TestSetOverwritesAndSurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	if err := s.Set("ui.sidebar_width", "30"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("ui.sidebar_width", "42"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	v, ok, err := reopened.Get("ui.sidebar_width")
	if err != nil || !ok || v != "42" {
		t.Fatalf("expected persisted value 42, got %q ok=%v err=%v", v, ok, err)
	}
}

func TestDeleteAndAll(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	for k, v := range map[string]string{"a": "1", "b": "2", "c": "3"} {
		if err := s.Set(k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	if err := s.Delete("b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.All()
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	want := map[string]string{"a": "1", "c": "3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("prefs mismatch: got=%v want=%v", got, want)
	}
}
