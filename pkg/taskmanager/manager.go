package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/placement"
	"github.com/cuemby/fabric/pkg/pool"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sink is the narrow view of the Image Sink Client (C8) the task
// manager needs: ship one sub-task's image artifacts as it finishes,
// and separately the whole job's single task_result envelope once
// every sub-task is done (spec §4.8).
type Sink interface {
	ShipImages(jobID, subTaskID string, result *types.InferenceResult) error
	ShipJobResult(jobID, summary string) error
}

// jobQueues holds the per-destination-node dispatch queues for one job
// and tracks which ones already have a running worker.
type jobQueues struct {
	byNode map[string]*fifoQueue
}

// Manager owns every job's sub-tasks, their per-node dispatch queues,
// and the result bag used to detect job completion (spec §4.6).
type Manager struct {
	cfg       *config.Config
	placement *placement.Client
	pool      *pool.Pool
	broker    *events.Broker
	sink      Sink
	log       zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*types.Job
	queues  map[string]*jobQueues
	results map[string]map[string]*types.InferenceResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Manager. ctx bounds the lifetime of every dispatch
// worker and archival goroutine it spawns.
func New(ctx context.Context, cfg *config.Config, client *placement.Client, p *pool.Pool, broker *events.Broker, sink Sink) *Manager {
	mgrCtx, cancel := context.WithCancel(ctx)
	return &Manager{
		cfg:       cfg,
		placement: client,
		pool:      p,
		broker:    broker,
		sink:      sink,
		log:       log.WithComponent("taskmanager"),
		jobs:      make(map[string]*types.Job),
		queues:    make(map[string]*jobQueues),
		results:   make(map[string]map[string]*types.InferenceResult),
		ctx:       mgrCtx,
		cancel:    cancel,
	}
}

// Shutdown stops accepting new work and waits for in-flight sub-tasks
// to finish their current attempt (spec §5 cancellation semantics).
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}

// CreateJob runs job ingest (spec §4.6 steps 1-4): split into groups,
// ask the placement oracle per group, enqueue every sub-task on its
// assigned node's dispatch queue, and start any dispatch worker that
// doesn't exist yet.
func (m *Manager) CreateJob(jobID, mediaLocator string, totalFrames int) (*types.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("taskmanager: job id %q is not a uuid: %w", jobID, err)
	}

	job := &types.Job{
		ID:           jobID,
		MediaLocator: mediaLocator,
		State:        types.JobCreated,
		CreatedAt:    time.Now(),
		TotalFrames:  totalFrames,
	}

	s := newSplitter(config.DefaultGroupCount, config.DefaultSubTaskCount, config.DefaultEdgeProbability)
	job.Groups = s.split(jobID, totalFrames)
	job.State = types.JobPlacing

	for _, group := range job.Groups {
		assignment, err := m.placement.AskGroup(jobID, group.Index, group)
		if err != nil {
			job.State = types.JobFailed
			return nil, fmt.Errorf("taskmanager: placement for job %s group %d: %w", jobID, group.Index, err)
		}
		for _, st := range group.SubTasks {
			node, ok := assignment[st.ID]
			if !ok {
				job.State = types.JobFailed
				return nil, fmt.Errorf("taskmanager: oracle left %s unplaced", st.ID)
			}
			st.NodeID = node
		}
	}
	job.State = types.JobDispatching

	m.mu.Lock()
	m.jobs[jobID] = job
	m.results[jobID] = make(map[string]*types.InferenceResult)
	jq := &jobQueues{byNode: make(map[string]*fifoQueue)}
	m.queues[jobID] = jq
	for _, st := range job.AllSubTasks() {
		q, existed := jq.byNode[st.NodeID]
		if !existed {
			q = newFIFOQueue()
			jq.byNode[st.NodeID] = q
			m.startDispatcher(jobID, st.NodeID, q)
		}
		q.push(st)
	}
	m.mu.Unlock()

	metrics.JobsTotal.WithLabelValues("created").Inc()
	metrics.SubTasksTotal.WithLabelValues(string(types.SubTaskQueued)).Add(float64(job.SubTaskCount()))
	m.broker.Publish(&events.Event{
		Type:     events.EventJobCreated,
		Message:  fmt.Sprintf("job %s split into %d groups", jobID, len(job.Groups)),
		Metadata: map[string]string{"job_id": jobID},
	})

	return job, nil
}

func (m *Manager) startDispatcher(jobID, nodeID string, q *fifoQueue) {
	d := &dispatcher{mgr: m, jobID: jobID, nodeID: nodeID, queue: q}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		d.run(m.ctx)
	}()
}

// recordResult stores a sub-task's outcome in the job's result bag and
// checks for job completion. Both done and failed sub-tasks count
// toward the bag: spec §4.6 defines completion purely by bag size
// equaling sub-task count, with no carve-out for failures.
func (m *Manager) recordResult(jobID string, st *types.SubTask, result *types.InferenceResult) {
	m.mu.Lock()
	m.results[jobID][st.ID] = result
	bag := m.results[jobID]
	job := m.jobs[jobID]
	total := job.SubTaskCount()
	done := len(bag)
	m.mu.Unlock()

	if st.State == types.SubTaskFailed {
		metrics.SubTasksTotal.WithLabelValues(string(types.SubTaskFailed)).Inc()
	} else {
		metrics.SubTasksTotal.WithLabelValues(string(types.SubTaskDone)).Inc()
	}

	if done >= total {
		m.completeJob(jobID, job, bag)
	}
}

func (m *Manager) completeJob(jobID string, job *types.Job, bag map[string]*types.InferenceResult) {
	m.mu.Lock()
	failures := 0
	for _, st := range job.AllSubTasks() {
		if st.State == types.SubTaskFailed {
			failures++
		}
	}
	if failures > 0 {
		job.State = types.JobFailed
	} else {
		job.State = types.JobCompleted
		job.ArchivalPath = fmt.Sprintf("archive/%s", jobID)
	}
	m.mu.Unlock()

	eventType := events.EventJobCompleted
	label := "completed"
	if job.State == types.JobFailed {
		eventType = events.EventJobFailed
		label = "failed"
	}
	metrics.JobsTotal.WithLabelValues(label).Inc()

	summary := fmt.Sprintf("job %s finished: %d/%d sub-tasks, %d failed", jobID, len(bag), job.SubTaskCount(), failures)
	m.broker.Publish(&events.Event{
		Type:    eventType,
		Message: summary,
		Metadata: map[string]string{
			"job_id":        jobID,
			"archival_path": job.ArchivalPath,
		},
	})
	m.shipJobResult(jobID, summary)
}

// archiveImages ships one completed sub-task's image artifacts to the
// sink off the dispatch worker's goroutine so a slow archival session
// never stalls the next sub-task in the FIFO queue. This fires once
// per sub-task as it finishes; the job's single task_result envelope
// is a separate send from completeJob, once the whole job is done.
func (m *Manager) archiveImages(jobID string, st *types.SubTask, result *types.InferenceResult) {
	if m.sink == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.sink.ShipImages(jobID, st.ID, result); err != nil {
			m.log.Warn().Err(err).Str("job_id", jobID).Str("subtask_id", st.ID).Msg("image archival failed")
		}
	}()
}

// shipJobResult sends the job's one task_result envelope once every
// sub-task has finished (spec §4.8, ground-truthed against
// original_source/real_work.py's send_task_completion_info, which
// fires only when the whole task is done rather than per sub-task).
func (m *Manager) shipJobResult(jobID, summary string) {
	if m.sink == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.sink.ShipJobResult(jobID, summary); err != nil {
			m.log.Warn().Err(err).Str("job_id", jobID).Msg("job result archival failed")
		}
	}()
}

// Job returns the in-memory record for jobID, if known.
func (m *Manager) Job(jobID string) (*types.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return job, ok
}
