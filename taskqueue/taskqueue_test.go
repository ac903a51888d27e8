package taskqueue

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddTaskSucceeds(t *testing.T) {
	q := Create(2)

	var mu sync.Mutex
	var completions []Completion
	q.OnTaskComplete(func(c Completion) {
		mu.Lock()
		defer mu.Unlock()
		completions = append(completions, c)
	})

	q.AddTask(Task{ID: "1", Type: "hash-file"}, func(task Task) (interface{}, error) {
		return "hashed", nil
	})

	q.AwaitAllTasks()
	q.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, completions, 1)
	require.Equal(t, Succeeded, completions[0].Result.Status)
	require.Equal(t, "hashed", completions[0].Result.Outputs)
}

func TestAddTaskFailureIsReported(t *testing.T) {
	q := Create(1)

	var mu sync.Mutex
	var got Completion
	q.OnTaskComplete(func(c Completion) {
		mu.Lock()
		defer mu.Unlock()
		got = c
	})

	q.AddTask(Task{ID: "2", Type: "import-file"}, func(task Task) (interface{}, error) {
		return nil, errors.New("upload failed")
	})

	q.AwaitAllTasks()
	q.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, Failed, got.Result.Status)
	require.Equal(t, "upload failed", got.Result.ErrorMessage)
}

func TestPanicInHandlerBecomesFailedResult(t *testing.T) {
	q := Create(1)

	var mu sync.Mutex
	var got Completion
	q.OnTaskComplete(func(c Completion) {
		mu.Lock()
		defer mu.Unlock()
		got = c
	})

	q.AddTask(Task{ID: "3"}, func(task Task) (interface{}, error) {
		panic("boom")
	})

	q.AwaitAllTasks()
	q.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, Failed, got.Result.Status)
	require.Contains(t, got.Result.ErrorMessage, "boom")
}

func TestManyTasksAllComplete(t *testing.T) {
	q := Create(4)

	var mu sync.Mutex
	count := 0
	q.OnTaskComplete(func(c Completion) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	const n = 50
	for i := 0; i < n; i++ {
		q.AddTask(Task{ID: "t"}, func(task Task) (interface{}, error) {
			return nil, nil
		})
	}
	q.AwaitAllTasks()
	q.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, n, count)
}
