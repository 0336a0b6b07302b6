// Package scheduler runs the service's periodic maintenance jobs (cache
// eviction, search-cache pruning) on robfig/cron, independent of request
// traffic.
package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"
)

// Job 描述一个周期任务；RunAtStart 为 true 时在 Start 中先同步执行一次。
type Job struct {
	Name       string
	Every      time.Duration
	RunAtStart bool
	Run        func()
}

// Scheduler 包装 cron.Cron，统一任务日志字段。
type Scheduler struct {
	cron   *cron.Cron
	logger *logrus.Logger

	mu      sync.Mutex
	jobs    []Job
	started bool
}

// New 创建一个尚未启动的调度器。
func New(logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Add 注册周期任务；Every 小于 1s 时由 cron 向上取整为 1s。
func (s *Scheduler) Add(job Job) error {
	if strings.TrimSpace(job.Name) == "" {
		return errors.New("job name required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: run func required", job.Name)
	}
	if job.Every <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("job %s: scheduler already started", job.Name)
	}
	s.jobs = append(s.jobs, job)
	s.cron.Schedule(cron.Every(job.Every), cron.FuncJob(s.wrap(job)))
	return nil
}

// Start 先同步执行 RunAtStart 任务，再启动 cron 循环。重复调用无副作用。
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, job := range jobs {
		if job.RunAtStart {
			s.wrap(job)()
		}
	}
	s.cron.Start()
}

// Stop 停止调度，不等待正在执行的任务。
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Jobs 返回已注册任务的名称，供启动日志输出。
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.jobs))
	for i, job := range s.jobs {
		names[i] = job.Name
	}
	return names
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		started := time.Now()
		defer func() {
			if r := recover(); r != nil && s.logger != nil {
				s.logger.WithFields(logrus.Fields{
					"action": "scheduler",
					"job":    job.Name,
				}).Errorf("job panic: %v", r)
			}
		}()
		job.Run()
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"action":     "scheduler",
				"job":        job.Name,
				"elapsed_ms": time.Since(started).Milliseconds(),
			}).Debug("job_complete")
		}
	}
}
