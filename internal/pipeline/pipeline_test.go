package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lucasew/dumpkeeper/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messages []string

func (m *messages) notifier() notify.Notifier {
	return notify.Func(func(_ context.Context, msg string) { *m = append(*m, msg) })
}

func ok(context.Context) error { return nil }

func TestRunner_AllSucceed(t *testing.T) {
	var msgs messages
	var observed []string
	r := NewRunner(msgs.notifier(), ObserverFunc(func(name string, _ time.Duration, err error) {
		observed = append(observed, name)
		assert.NoError(t, err)
	}))

	err := r.Run(context.Background(), []Step{
		{Name: "dump", Start: "Dumping...", Done: "Dump done", Run: ok},
		{Name: "quiet", Run: ok},
		{Name: "upload", Start: "Uploading...", Done: "Uploaded", Run: ok},
	})
	require.NoError(t, err)
	assert.Equal(t, messages{"Dumping...", "Dump done", "Uploading...", "Uploaded"}, msgs)
	assert.Equal(t, []string{"dump", "quiet", "upload"}, observed)
}

func TestRunner_RequiredFailureStops(t *testing.T) {
	var msgs messages
	boom := errors.New("boom")
	ran := false

	err := NewRunner(msgs.notifier(), nil).Run(context.Background(), []Step{
		{Name: "dump", Start: "Dumping...", Done: "Dump done", Run: func(context.Context) error { return boom }},
		{Name: "upload", Start: "Uploading...", Run: func(context.Context) error { ran = true; return nil }},
	})

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "dump", stepErr.Step)
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
	assert.Equal(t, messages{"Dumping...", "Error Dumping..."}, msgs)
}

func TestRunner_OptionalFailureContinues(t *testing.T) {
	var msgs messages
	err := NewRunner(msgs.notifier(), nil).Run(context.Background(), []Step{
		{Name: "clean", Start: "Deleting old dump...", Done: "Deleted", Optional: true,
			Run: func(context.Context) error { return errors.New("busy") }},
		{Name: "dump", Start: "Dumping...", Done: "Dump done", Run: ok},
	})
	require.NoError(t, err)
	assert.Equal(t, messages{"Deleting old dump...", "Error Deleting old dump...", "Dumping...", "Dump done"}, msgs)
}

func TestRunner_FailedMessage(t *testing.T) {
	var msgs messages
	fail := func(context.Context) error { return errors.New("x") }
	err := NewRunner(msgs.notifier(), nil).Run(context.Background(), []Step{
		{Name: "quiet", Optional: true, Run: fail},
		{Name: "upload", Start: "Copying the zip file.", Failed: "Error copying the zip file.", Run: fail},
	})
	require.Error(t, err)
	assert.Equal(t, messages{"Copying the zip file.", "Error copying the zip file."}, msgs)
}

func TestRunner_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRunner(nil, nil).Run(ctx, []Step{{Name: "dump", Run: ok}})
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.ErrorIs(t, err, context.Canceled)
}
