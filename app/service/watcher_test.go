package service

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umputun/nbtext/lib/bayes"
	"github.com/umputun/nbtext/lib/dataset"
)

func TestService_Watch(t *testing.T) {
	root := writeCorpus(t, map[string]string{
		"imdb.vocab":      "good bad fine",
		"train/pos/1.txt": "good good",
		"train/neg/1.txt": "bad bad",
	})
	src := DirSource{Params: dataset.Params{Root: root}}
	svc := New(Config{Source: src})
	_, err := svc.Reload(context.Background())
	require.NoError(t, err)

	paths, err := src.WatchPaths()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, svc.Watch(ctx, 50*time.Millisecond, paths...))
	}()
	time.Sleep(100 * time.Millisecond) // let watcher start

	t.Run("new document", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(root, "train", "pos", "2.txt"), []byte("fine"), 0o600))
		require.Eventually(t, func() bool { return svc.Reloads() >= 2 }, 5*time.Second, 10*time.Millisecond)
		st, err := svc.Stats()
		require.NoError(t, err)
		assert.Equal(t, 3, st.Documents)
	})

	t.Run("new class directory", func(t *testing.T) {
		dir := filepath.Join(root, "train", "mid")
		require.NoError(t, os.MkdirAll(dir, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "1.txt"), []byte("fine fine"), 0o600))
		require.Eventually(t, func() bool {
			m := svc.Model()
			return slices.Contains(m.Classes(), bayes.Class("mid"))
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("broken corpus keeps the model", func(t *testing.T) {
		m := svc.Model()
		require.NoError(t, os.WriteFile(filepath.Join(root, "imdb.vocab"), []byte(" "), 0o600))
		time.Sleep(300 * time.Millisecond)
		assert.Same(t, m, svc.Model())
	})

	cancel()
	<-done
}

func TestService_WatchErrors(t *testing.T) {
	svc := New(Config{Source: goodBadSource()})
	err := svc.Watch(context.Background(), time.Millisecond)
	assert.EqualError(t, err, "nothing to watch")

	err = svc.Watch(context.Background(), time.Millisecond, t.TempDir(), "/nonexistent/path/1", "/nonexistent/path/2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to add some paths to watcher")
	assert.Contains(t, err.Error(), "/nonexistent/path/1")
	assert.Contains(t, err.Error(), "/nonexistent/path/2")
}
