package steps

import (
	"sync"

	"github.com/mrsinham/umieforge/internal/pipeline"
)

// converted is the outcome of converting one reference.
type converted struct {
	refs []pipeline.FileRef
	err  error
}

// parallel runs fn over every item with up to workers goroutines and returns
// the results in item order. workers <= 1 runs fn in order on the calling
// goroutine.
func parallel[T any](items []T, workers int, fn func(T) converted) []converted {
	results := make([]converted, len(items))
	if workers <= 1 {
		for i, it := range items {
			results[i] = fn(it)
		}
		return results
	}
	if workers > len(items) {
		workers = len(items)
	}

	type task struct {
		index int
		item  T
	}
	taskChan := make(chan task, len(items))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskChan {
				results[t.index] = fn(t.item)
			}
		}()
	}
	for i, it := range items {
		taskChan <- task{index: i, item: it}
	}
	close(taskChan)
	wg.Wait()
	return results
}
