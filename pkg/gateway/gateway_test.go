package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/pool"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/cuemby/fabric/pkg/wire"
	"github.com/stretchr/testify/require"
)

type fakeJobManager struct {
	job *types.Job
	err error
}

func (f *fakeJobManager) CreateJob(jobID, mediaLocator string, totalFrames int) (*types.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.job, nil
}

func (f *fakeJobManager) Job(jobID string) (*types.Job, bool) {
	if f.job != nil && f.job.ID == jobID {
		return f.job, true
	}
	return nil, false
}

func sampleJob() *types.Job {
	return &types.Job{
		ID:    "job-1",
		State: types.JobDispatching,
		Groups: []*types.Group{
			{
				Index: 0,
				SubTasks: []*types.SubTask{
					{ID: "job-1_0_0", NodeID: "10.0.0.1:5002"},
					{ID: "job-1_0_1", NodeID: "10.0.0.2:5002"},
				},
			},
		},
	}
}

func startFakeNodeAgent(t *testing.T, nodes []*types.NodeDescriptor) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				for {
					req, err := wire.ReceiveMessage(c, 2*time.Second)
					if err != nil {
						return
					}
					if req.Kind == wire.KindGetNodesInfo {
						_ = wire.SendMessage(c, &wire.Envelope{Kind: wire.KindAnsNodesInfo, Nodes: nodes})
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func startGateway(t *testing.T, jobs JobManager, nodeAddr string) (net.Conn, *Gateway) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	g := New(nodeAddr, jobs, pool.New(time.Second), broker)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go g.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, g
}

func readOutbound(t *testing.T, r *bufio.Scanner) outboundEnvelope {
	t.Helper()
	require.True(t, r.Scan())
	var env outboundEnvelope
	require.NoError(t, json.Unmarshal(r.Bytes(), &env))
	return env
}

func TestCreateTasksPushesSubtasksAndTasksInfo(t *testing.T) {
	job := sampleJob()
	conn, _ := startGateway(t, &fakeJobManager{job: job}, "127.0.0.1:1")

	req := map[string]interface{}{
		"type":    "create_tasks",
		"content": map[string]interface{}{"media": "clip.mp4", "job_id": job.ID},
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(body, '\n'))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	first := readOutbound(t, scanner)
	require.Equal(t, "Subtasks_info", first.Type)

	second := readOutbound(t, scanner)
	require.Equal(t, "tasks_info", second.Type)
}

func TestNodeInfoQueriesLocalAgent(t *testing.T) {
	nodes := []*types.NodeDescriptor{
		{ID: "10.0.0.1:5002", ProcessingSpeed: 1.5, X: 0, Y: 0, SenseRadius: 5},
		{ID: "10.0.0.2:5002", ProcessingSpeed: 2.0, X: 1, Y: 1, SenseRadius: 5},
	}
	nodeAddr := startFakeNodeAgent(t, nodes)
	conn, _ := startGateway(t, &fakeJobManager{}, nodeAddr)

	req := map[string]interface{}{"type": "node_info", "content": map[string]interface{}{}}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(body, '\n'))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	ansNodeInfo := readOutbound(t, scanner)
	require.Equal(t, "ans_node_info", ansNodeInfo.Type)

	clusterInfo := readOutbound(t, scanner)
	require.Equal(t, "cluster_info", clusterInfo.Type)
}

func TestTranslateSubTaskCompletedToTaskInfo(t *testing.T) {
	g := &Gateway{}
	var got *outboundEnvelope
	write := func(env *outboundEnvelope) { got = env }

	g.translate(&events.Event{
		Type: events.EventSubTaskCompleted,
		Metadata: map[string]string{
			"node":       "10.0.0.1:5002",
			"subtask_id": "job-1_0_0",
			"job_id":     "job-1",
			"deal_time":  "1.23",
		},
	}, write)

	require.Equal(t, "task_info", got.Type)
	content := got.Content.(taskInfoContent)
	require.Equal(t, "10.0.0.1:5002", content.NodeName)
	require.Equal(t, "job-1_0_0", content.SubtaskName)
}

func TestTranslateJobCompletedCarriesArchivalPath(t *testing.T) {
	g := &Gateway{}
	var got *outboundEnvelope
	write := func(env *outboundEnvelope) { got = env }

	g.translate(&events.Event{
		Type:     events.EventJobCompleted,
		Metadata: map[string]string{"job_id": "job-1", "archival_path": "archive/job-1"},
	}, write)

	require.Equal(t, "task_info", got.Type)
	content := got.Content.(taskInfoContent)
	require.Equal(t, "archive/job-1", content.Path)
}
