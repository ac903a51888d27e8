// Package taskqueue implements the task queue contract from spec §6
// over github.com/JekaMas/workerpool: create/addTask/onTaskComplete/
// awaitAllTasks/shutdown, with completion callbacks carrying a
// Succeeded/Failed result. The pipeline package drives the hash-file
// and import-file stages (spec §4.5) through a Queue.
//
// Grounded on the teacher's own use of JekaMas/workerpool (go.mod) and
// on node/lifecycle.go's pattern of collecting goroutine completions
// through a callback rather than blocking the caller on each Submit.
package taskqueue

import (
	"fmt"
	"sync"

	"github.com/JekaMas/workerpool"

	"github.com/ashleydavis/photosphere-sub005/metrics"
)

// Status is the outcome of a single task run.
type Status int

const (
	// Succeeded indicates the task's Handler returned without error.
	Succeeded Status = iota
	// Failed indicates the task's Handler returned an error or panicked.
	Failed
)

// Task is one unit of work submitted to the queue. Type distinguishes
// "hash-file" from "import-file" tasks per spec §4.5.
type Task struct {
	ID   string
	Type string
	Data interface{}
}

// Result is the outcome of running a Task's Handler.
type Result struct {
	Status       Status
	Outputs      interface{}
	Error        error
	ErrorMessage string
}

// Completion is delivered to the OnTaskComplete callback once a task's
// Handler has run.
type Completion struct {
	Task   Task
	Result Result
}

// Handler runs a Task and produces its Outputs, or an error.
type Handler func(Task) (interface{}, error)

// Queue is a bounded worker pool plus completion-callback plumbing.
type Queue struct {
	pool *workerpool.WorkerPool

	mu         sync.Mutex
	onComplete func(Completion)

	wg sync.WaitGroup
}

// Create returns a Queue backed by maxWorkers concurrent goroutines
// (spec §6 `create()`).
func Create(maxWorkers int) *Queue {
	return &Queue{pool: workerpool.New(maxWorkers)}
}

// OnTaskComplete registers the callback invoked after every task
// finishes, successfully or not (spec §6 `onTaskComplete(cb)`).
func (q *Queue) OnTaskComplete(cb func(Completion)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onComplete = cb
}

// AddTask submits task to the pool, running handler on a worker
// goroutine and reporting its outcome to the registered completion
// callback (spec §6 `addTask(type, data)`).
func (q *Queue) AddTask(task Task, handler Handler) {
	q.wg.Add(1)
	metrics.PipelineQueueDepth.Inc()
	q.pool.Submit(func() {
		defer q.wg.Done()
		defer metrics.PipelineQueueDepth.Dec()
		result := runSafely(handler, task)

		q.mu.Lock()
		cb := q.onComplete
		q.mu.Unlock()
		if cb != nil {
			cb(Completion{Task: task, Result: result})
		}
	})
}

// runSafely invokes handler, converting a panic into a Failed result so
// a single misbehaving task cannot take down the pool (spec §7
// "Workers propagate exceptions as Failed task results").
func runSafely(handler Handler, task Task) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Status: Failed, ErrorMessage: fmt.Sprintf("panic: %v", r)}
		}
	}()

	outputs, err := handler(task)
	if err != nil {
		return Result{Status: Failed, Error: err, ErrorMessage: err.Error()}
	}
	return Result{Status: Succeeded, Outputs: outputs}
}

// AwaitAllTasks blocks until every submitted task has completed (spec
// §6 `awaitAllTasks()`).
func (q *Queue) AwaitAllTasks() {
	q.wg.Wait()
}

// Shutdown stops accepting new tasks and waits for in-flight tasks to
// finish (spec §6 `shutdown()`).
func (q *Queue) Shutdown() {
	q.pool.StopWait()
}
