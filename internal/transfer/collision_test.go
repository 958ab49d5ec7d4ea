package transfer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolveCollisionNoConflict(t *testing.T) {
	dir := t.TempDir()

	got, err := resolveCollision(dir, "hello.txt")
	if err != nil {
		t.Fatalf("resolveCollision: %v", err)
	}
	if got != filepath.Join(dir, "hello.txt") {
		t.Fatalf("got %s, want hello.txt in %s", got, dir)
	}
}

func TestResolveCollisionAppendsCounter(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "photo.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "photo (1).jpg"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := resolveCollision(dir, "photo.jpg")
	if err != nil {
		t.Fatalf("resolveCollision: %v", err)
	}
	want := filepath.Join(dir, "photo (2).jpg")
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
