package book_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fernspielapparat/fernspielapparat/internal/book"
)

func writeBook(t *testing.T, path, yaml string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "book.yaml")
	writeBook(t, path, "states: {a:}")

	reloaded := make(chan *book.Book, 1)
	w, err := book.Watch(path, func(b *book.Book) {
		select {
		case reloaded <- b:
		default:
			b.Close()
		}
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	writeBook(t, path, "states: {a:, b:}\ntransitions: {a: {dial: {1: b}}}")

	select {
	case b := <-reloaded:
		defer b.Close()
		if got := b.Len(); got != 2 {
			t.Errorf("reloaded book has %d states, want 2", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never delivered the changed book")
	}
}

func TestWatcherKeepsRunningOnBrokenEdit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "book.yaml")
	writeBook(t, path, "states: {a:}")

	reloaded := make(chan *book.Book, 4)
	w, err := book.Watch(path, func(b *book.Book) { reloaded <- b })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	// A broken edit is ignored with a warning...
	writeBook(t, path, "states: {a:}\ntransitions: {a: {end: nowhere}}")
	time.Sleep(200 * time.Millisecond)

	// ...and a later fix still reloads.
	writeBook(t, path, "states: {a:, fixed:}\ntransitions: {a: {end: fixed}}")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case b := <-reloaded:
			ok := b.State("fixed") != nil
			b.Close()
			if ok {
				return
			}
			t.Fatal("watcher delivered the broken book")
		case <-deadline:
			t.Fatal("watcher never recovered after a broken edit")
		}
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "book.yaml")
	writeBook(t, path, "states: {a:}")

	reloaded := make(chan *book.Book, 1)
	w, err := book.Watch(path, func(b *book.Book) { reloaded <- b })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Stop()

	writeBook(t, filepath.Join(dir, "other.yaml"), "states: {z:}")

	select {
	case b := <-reloaded:
		b.Close()
		t.Fatal("watcher reloaded on a sibling file change")
	case <-time.After(300 * time.Millisecond):
	}
}
