package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/refract/internal/video"
)

func TestPushPopOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, nil)
	ctx := context.Background()

	descs := make([]*video.PictureDescriptor, 3)
	for i := range descs {
		descs[i] = &video.PictureDescriptor{PictureIndex: int32(i)}
		require.NoError(t, q.Push(ctx, descs[i]))
	}
	assert.Equal(t, 3, q.Depth())

	for i := range descs {
		d, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Same(t, descs[i], d)
	}

	stats := q.Stats()
	assert.EqualValues(t, 3, stats.Accepted)
	assert.EqualValues(t, 3, stats.Delivered)
	assert.EqualValues(t, 0, stats.Dropped)
}

func TestPushBackPressure(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, nil)
	ctx := context.Background()
	require.NoError(t, q.Push(ctx, &video.PictureDescriptor{}))

	// the queue is full, so a second push must wait for the pop
	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.Push(ctx, &video.PictureDescriptor{PictureIndex: 1})
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("push did not block: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	_, err := q.Pop(ctx)
	require.NoError(t, err)
	require.NoError(t, <-unblocked)
}

func TestPushTimeout(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, nil)
	require.NoError(t, q.Push(context.Background(), &video.PictureDescriptor{}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Push(ctx, &video.PictureDescriptor{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, q.Stats().Dropped)
}

func TestCloseDrains(t *testing.T) {
	t.Parallel()

	q := NewQueue(4, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(ctx, &video.PictureDescriptor{PictureIndex: int32(i)}))
	}
	q.Close()

	assert.ErrorIs(t, q.Push(ctx, &video.PictureDescriptor{}), ErrClosed)

	// everything accepted before the close still comes out, in order
	for i := 0; i < 3; i++ {
		d, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, i, d.PictureIndex)
	}
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, ErrDrained)
}

func TestPopWakesOnPush(t *testing.T) {
	t.Parallel()

	q := NewQueue(2, nil)
	ctx := context.Background()

	got := make(chan *video.PictureDescriptor, 1)
	go func() {
		d, err := q.Pop(ctx)
		if err != nil {
			t.Error(err)
		}
		got <- d
	}()

	time.Sleep(10 * time.Millisecond)
	want := &video.PictureDescriptor{PictureIndex: 7}
	require.NoError(t, q.Push(ctx, want))

	select {
	case d := <-got:
		assert.Same(t, want, d)
	case <-time.After(time.Second):
		t.Fatal("pop never woke")
	}
}

func TestPipelineRun(t *testing.T) {
	t.Parallel()

	p := New(2, nil)
	const frames = 20

	var submitted []int32
	err := p.Run(context.Background(),
		func(ctx context.Context, q *Queue) error {
			for i := int32(0); i < frames; i++ {
				if err := q.Push(ctx, &video.PictureDescriptor{PictureIndex: i}); err != nil {
					return err
				}
			}
			return nil
		},
		func(d *video.PictureDescriptor) error {
			submitted = append(submitted, d.PictureIndex)
			return nil
		})
	require.NoError(t, err)

	require.Len(t, submitted, frames)
	for i, idx := range submitted {
		assert.EqualValues(t, i, idx)
	}
	stats := p.Queue().Stats()
	assert.EqualValues(t, frames, stats.Accepted)
	assert.EqualValues(t, frames, stats.Delivered)
}

func TestPipelineRunProducerError(t *testing.T) {
	t.Parallel()

	p := New(2, nil)
	wantErr := errors.New("ingest failed")
	consumed := make(chan struct{}, 1)

	err := p.Run(context.Background(),
		func(ctx context.Context, q *Queue) error {
			if err := q.Push(ctx, &video.PictureDescriptor{}); err != nil {
				return err
			}
			<-consumed
			return wantErr
		},
		func(d *video.PictureDescriptor) error {
			consumed <- struct{}{}
			return nil
		})
	assert.ErrorIs(t, err, wantErr)

	// the frame pushed before the failure was still delivered
	assert.EqualValues(t, 1, p.Queue().Stats().Delivered)
}
