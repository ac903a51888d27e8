package service

import "github.com/ashleydavis/photosphere-sub005/pipeline"

// Runner is the subset of *pipeline.Pipeline a PipelineService drives. It is
// satisfied by *pipeline.Pipeline; the interface exists so tests can supply
// a fake without constructing a full Pipeline (storage, metastore, task
// queue, and write lock all wired together).
type Runner interface {
	Run(paths []string, scanner *pipeline.Scanner) (pipeline.Summary, error)
	Shutdown() (pipeline.Summary, error)
}

// PipelineService adapts an import pipeline run to the Service interface so
// it can be registered with a LifecycleManager or ServiceRegistry alongside
// future subsystems, and exposes a SubsystemChecker so HealthChecker can
// report on it.
type PipelineService struct {
	name    string
	runner  Runner
	scanner *pipeline.Scanner
	paths   []string

	lastSummary pipeline.Summary
	lastErr     error
	running     bool
}

// NewPipelineService wraps runner so an import run over paths can be driven
// through the Start/Stop lifecycle contract.
func NewPipelineService(name string, runner Runner, scanner *pipeline.Scanner, paths []string) *PipelineService {
	return &PipelineService{name: name, runner: runner, scanner: scanner, paths: paths}
}

// Name satisfies Service.
func (s *PipelineService) Name() string { return s.name }

// Start runs the import pipeline to completion over the configured paths.
// The pipeline's own task queue is already concurrent internally, so Start
// blocks until the run (and its shutdown sequence) finishes.
func (s *PipelineService) Start() error {
	summary, err := s.runner.Run(s.paths, s.scanner)
	s.lastSummary = summary
	s.lastErr = err
	s.running = err == nil
	return err
}

// Stop flushes and shuts down the underlying pipeline if it is still
// running. Safe to call even if Start already drove the pipeline to
// completion (pipeline.Shutdown is idempotent with respect to an already
// drained queue).
func (s *PipelineService) Stop() error {
	if !s.running {
		return nil
	}
	summary, err := s.runner.Shutdown()
	s.lastSummary = summary
	s.running = false
	return err
}

// Check satisfies SubsystemChecker: healthy while no files failed import,
// degraded once some have, unhealthy if the last run returned an error.
func (s *PipelineService) Check() *SubsystemHealth {
	if s.lastErr != nil {
		return &SubsystemHealth{Status: StatusUnhealthy, Message: s.lastErr.Error()}
	}
	if s.lastSummary.FilesFailed > 0 {
		return &SubsystemHealth{Status: StatusDegraded, Message: "some files failed import"}
	}
	return &SubsystemHealth{Status: StatusHealthy}
}

// LastSummary returns the Summary from the most recent run.
func (s *PipelineService) LastSummary() pipeline.Summary { return s.lastSummary }

var _ Service = (*PipelineService)(nil)
var _ SubsystemChecker = (*PipelineService)(nil)
