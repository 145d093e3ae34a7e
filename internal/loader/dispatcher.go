package loader

import (
	"context"
	"errors"
)

// Handler consumes task outcomes. Its methods run on the goroutine that
// calls Dispatcher.Pump or Dispatcher.Wait, never on the worker.
type Handler interface {
	// OnComplete receives a finished task's data, SUCCESS or ERROR.
	OnComplete(data LoadData)
	// OnStopped is called instead of OnComplete for a cancelled task.
	// data carries no tiles and a non-terminal status.
	OnStopped(data LoadData)
}

// Result is what a worker sends back exactly once.
type Result struct {
	Task    *Task
	Data    LoadData
	Err     error
	Stopped bool
}

// Job is a running task. Its result is only ever read by the Dispatcher.
type Job struct {
	task    *Task
	results chan Result
	done    chan struct{}
}

// Task returns the job's task.
func (j *Job) Task() *Task {
	return j.task
}

// Done is closed once the worker has posted its result. The result itself
// is handed to the task's handler by Pump or Wait.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Stop requests cancellation of the job's task.
func (j *Job) Stop() {
	j.task.Stop()
}

// Dispatcher starts tasks on worker goroutines and delivers their results
// on the owning goroutine. Its methods must only be called from that
// goroutine.
type Dispatcher struct {
	jobs []*Job
}

// NewDispatcher creates a dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Start runs task on a new worker goroutine.
func (d *Dispatcher) Start(ctx context.Context, task *Task) *Job {
	job := &Job{task: task, results: make(chan Result, 1), done: make(chan struct{})}
	d.jobs = append(d.jobs, job)

	go func() {
		data, err := task.Run(ctx)
		job.results <- Result{
			Task:    task,
			Data:    data,
			Err:     err,
			Stopped: IsStopped(err),
		}
		close(job.done)
	}()
	return job
}

// Pending returns the number of jobs whose results have not been delivered.
func (d *Dispatcher) Pending() int {
	return len(d.jobs)
}

// Pump delivers every result that is ready without blocking and returns
// how many were delivered. Call it from the owning loop, once per tick.
func (d *Dispatcher) Pump() int {
	delivered := 0
	remaining := d.jobs[:0]
	for _, job := range d.jobs {
		select {
		case r := <-job.results:
			d.deliver(r)
			delivered++
		default:
			remaining = append(remaining, job)
		}
	}
	clear(d.jobs[len(remaining):])
	d.jobs = remaining
	return delivered
}

// Wait blocks until every started job has been delivered or ctx ends.
// Ending ctx does not stop the jobs; use Job.Stop for that.
func (d *Dispatcher) Wait(ctx context.Context) error {
	for len(d.jobs) > 0 {
		job := d.jobs[0]
		select {
		case r := <-job.results:
			d.jobs[0] = nil
			d.jobs = d.jobs[1:]
			d.deliver(r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (d *Dispatcher) deliver(r Result) {
	h := r.Task.handler
	if h == nil {
		return
	}
	if r.Stopped {
		h.OnStopped(r.Data)
		return
	}
	if errors.Is(r.Err, ErrAlreadyRun) || errors.Is(r.Err, ErrNotSetup) {
		// The task never ran here; nothing to hand over.
		return
	}
	h.OnComplete(r.Data)
}
