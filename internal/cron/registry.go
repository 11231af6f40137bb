package cron

import "context"

// Job is one unit of scheduled work. Run must be safe to repeat: a crash
// mid-run is recovered by the next tick.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry keeps jobs in registration order. Names are unique; a later job
// with a taken name is ignored.
type Registry struct {
	jobs  []Job
	index map[string]Job
}

func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{index: map[string]Job{}}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds a job and reports whether it was accepted.
func (r *Registry) Register(job Job) bool {
	if job == nil {
		return false
	}
	if _, taken := r.index[job.Name()]; taken {
		return false
	}
	r.index[job.Name()] = job
	r.jobs = append(r.jobs, job)
	return true
}

func (r *Registry) Lookup(name string) Job {
	return r.index[name]
}

// Jobs returns a copy of the registered jobs.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}
