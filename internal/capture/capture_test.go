package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoardPNGRequiresURLAndOutput(t *testing.T) {
	err := BoardPNG(context.Background(), Options{OutputPath: "x.png"})
	assert.ErrorContains(t, err, "URL is required")

	err = BoardPNG(context.Background(), Options{URL: "http://127.0.0.1/"})
	assert.ErrorContains(t, err, "OutputPath is required")
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{URL: "http://x/", OutputPath: "out.png"}
	require.NoError(t, o.normalize())
	assert.Equal(t, DefaultWidth, o.Width)
	assert.Equal(t, DefaultHeight, o.Height)
	assert.NotZero(t, o.Timeout)
}

func TestWriteAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "board.png")
	require.NoError(t, writeAtomic(path, []byte("png")))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png", string(b))
}

func TestJobRecordsLastRun(t *testing.T) {
	calls := 0
	fail := errors.New("no chrome")
	job := NewJob("@every 1h", Options{URL: "http://x/"}, func(_ context.Context, o Options) error {
		calls++
		assert.Equal(t, "http://x/", o.URL)
		if calls > 1 {
			return fail
		}
		return nil
	})

	require.NoError(t, job.RunOnce(context.Background()))
	at, err := job.Last()
	assert.False(t, at.IsZero())
	assert.NoError(t, err)

	assert.ErrorIs(t, job.RunOnce(context.Background()), fail)
	_, err = job.Last()
	assert.ErrorIs(t, err, fail)
}

func TestJobRejectsBadSchedule(t *testing.T) {
	job := NewJob("bogus", Options{}, func(context.Context, Options) error { return nil })
	assert.Error(t, job.Start(context.Background()))
	job.Stop()
}
