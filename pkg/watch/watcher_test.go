package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskcue/cuebridge/internal/testutil"
)

func start(t *testing.T, root string) <-chan struct{} {
	t.Helper()
	w, err := New(root, 20*time.Millisecond, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan struct{}, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(context.Context) { changes <- struct{}{} })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return changes
}

func waitChange(t *testing.T, changes <-chan struct{}) {
	t.Helper()
	select {
	case <-changes:
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}

func TestWatcherReportsCueChanges(t *testing.T) {
	root := testutil.WriteModule(t, map[string]string{"app/app.cue": "package app\n"})
	changes := start(t, root)

	testutil.WriteFile(t, root, "app/app.cue", "package app\n\nname: \"api\"\n")
	waitChange(t, changes)
}

func TestWatcherDebouncesBursts(t *testing.T) {
	root := testutil.WriteModule(t, map[string]string{"a.cue": "package a\n"})
	changes := start(t, root)

	for i := 0; i < 5; i++ {
		testutil.WriteFile(t, root, "a.cue", "package a\n")
	}
	waitChange(t, changes)

	select {
	case <-changes:
		t.Fatal("burst produced more than one change")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := testutil.WriteModule(t, map[string]string{"a.cue": "package a\n"})
	changes := start(t, root)

	require.NoError(t, os.Mkdir(filepath.Join(root, "svc"), 0o755))
	waitChange(t, changes)

	testutil.WriteFile(t, root, "svc/svc.cue", "package svc\n")
	waitChange(t, changes)
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{name: "write cue", event: fsnotify.Event{Name: "/m/a.cue", Op: fsnotify.Write}, want: true},
		{name: "remove cue", event: fsnotify.Event{Name: "/m/a.cue", Op: fsnotify.Remove}, want: true},
		{name: "chmod cue", event: fsnotify.Event{Name: "/m/a.cue", Op: fsnotify.Chmod}, want: false},
		{name: "other file", event: fsnotify.Event{Name: "/m/README.md", Op: fsnotify.Write}, want: false},
		{name: "editor swap", event: fsnotify.Event{Name: "/m/.a.cue", Op: fsnotify.Write}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.event))
		})
	}
}

func TestSkipDir(t *testing.T) {
	assert.True(t, skipDir(".git"))
	assert.False(t, skipDir("cue.mod"))
	assert.False(t, skipDir("services"))
}
