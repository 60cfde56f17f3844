package workgroup

import (
	"context"
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func TestWaitAll(t *testing.T) {
	g := WithContext(context.Background())
	results := make(chan int, 2)
	g.Work(func(context.Context) error { results <- 1; return nil })
	g.Work(func(context.Context) error { results <- 2; return nil })
	assert.NilError(t, g.Wait())
	close(results)
	sum := 0
	for r := range results {
		sum += r
	}
	assert.Equal(t, sum, 3)
}

func TestFailureCancelsOthers(t *testing.T) {
	g := WithContext(context.Background())
	boom := errors.New("boom")
	g.Work(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.Work(func(context.Context) error { return boom })
	assert.ErrorIs(t, g.Wait(), boom)
}
