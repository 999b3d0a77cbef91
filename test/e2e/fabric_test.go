// Package e2e drives a small real fabric (three node agents, a task
// manager, a gateway, and fake placement/sink peers) through the happy
// path acceptance scenario: a 100-frame job split into 10x10 sub-tasks,
// dispatched, inferred, and archived end to end.
package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/gateway"
	"github.com/cuemby/fabric/pkg/node"
	"github.com/cuemby/fabric/pkg/placement"
	"github.com/cuemby/fabric/pkg/pool"
	"github.com/cuemby/fabric/pkg/sink"
	"github.com/cuemby/fabric/pkg/taskmanager"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/cuemby/fabric/pkg/wire"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// stubRunner answers every sub-task instantly with an empty-image
// result; frame splitting and real inference are out of scope.
type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, segment types.FrameSegment) (*types.InferenceResult, error) {
	return &types.InferenceResult{Summary: "ok"}, nil
}

// startNode brings up one real node.Agent listening on a loopback port
// and returns its wire identity.
func startNode(t *testing.T, ctx context.Context) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	cfg := &config.Config{
		MachineIP:            ln.Addr().String(),
		CPUMemory:            1 << 40,
		Memory:               1 << 40,
		Bandwidth:            1 << 40,
		AdmissionParallelism: 10,
	}

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	agent := node.New(cfg, stubRunner{}, broker)
	go agent.Serve(ctx, ln)
	t.Cleanup(agent.Shutdown)

	return cfg.MachineIP
}

// startFakeOracle assigns every task name in a group to nodeAddrs in
// round-robin order by task index, mirroring the wire shape
// pkg/placement's client tests use.
func startFakeOracle(t *testing.T, nodeAddrs []string) string {
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
				req, err := wire.ReceiveMessage(c, 2*time.Second)
				if err != nil {
					return
				}
				q := req.PlacementQuery
				assignment := make([]types.PlacementAssignment, len(q.TaskNames))
				for i, name := range q.TaskNames {
					assignment[i] = types.PlacementAssignment{
						Task: name,
						Node: nodeAddrs[i%len(nodeAddrs)],
					}
				}
				reply := &wire.Envelope{
					Kind: wire.KindPlacement,
					PlacementAnswer: &types.PlacementAnswer{
						JobID:      q.JobID,
						GroupIndex: q.GroupIndex,
						Assignment: assignment,
					},
				}
				_ = wire.SendMessage(c, reply)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

// startFakeSink records one hit per task_result connection. stubRunner
// never attaches images, so every connection the task manager's sink
// client makes to this sink is the single job-level completion envelope, not a per-sub-task
// one (spec §4.8: the task_result envelope fires once the whole job's
// sub-tasks are all done, not once per sub-task).
func startFakeSink(t *testing.T) (addr string, sessions chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	sessions = make(chan struct{}, 256)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				if _, err := r.ReadBytes('\n'); err != nil {
					return
				}
				sessions <- struct{}{}
			}(conn)
		}
	}()
	return ln.Addr().String(), sessions
}

func readOutbound(t *testing.T, scanner *bufio.Scanner) map[string]interface{} {
	t.Helper()
	require.True(t, scanner.Scan())
	var env map[string]interface{}
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
	return env
}

func TestHappyPathJobCompletesWithOneArchivalSessionForTheWholeJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nodeA := startNode(t, ctx)
	nodeB := startNode(t, ctx)
	nodeC := startNode(t, ctx)
	oracleAddr := startFakeOracle(t, []string{nodeA, nodeB, nodeC})
	sinkAddr, sessions := startFakeSink(t)

	cfg := &config.Config{AdmissionParallelism: 10}
	connPool := pool.New(2 * time.Second)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	placementClient := placement.New(oracleAddr, 2*time.Second)
	sinkClient := sink.New(sinkAddr, 2*time.Second, 1)
	manager := taskmanager.New(ctx, cfg, placementClient, connPool, broker, sinkClient)
	t.Cleanup(manager.Shutdown)

	gw := gateway.New(nodeA, manager, connPool, broker)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go gw.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	jobID := uuid.New().String()
	req := map[string]interface{}{
		"type": "create_tasks",
		"content": map[string]interface{}{
			"media":        "clip.mp4",
			"job_id":       jobID,
			"total_frames": 100,
		},
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(body, '\n'))
	require.NoError(t, err)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	subtasksInfo := readOutbound(t, scanner)
	require.Equal(t, "Subtasks_info", subtasksInfo["type"])
	groups := subtasksInfo["content"].(map[string]interface{})
	require.Len(t, groups, 10)
	for _, names := range groups {
		require.Len(t, names, 10)
	}

	tasksInfo := readOutbound(t, scanner)
	require.Equal(t, "tasks_info", tasksInfo["type"])

	completed := 0
	var archivalPath string
	deadline := time.Now().Add(10 * time.Second)
	for completed < 100 {
		require.True(t, time.Now().Before(deadline), "timed out waiting for 100 task_info events, got %d", completed)
		env := readOutbound(t, scanner)
		require.Equal(t, "task_info", env["type"])
		content := env["content"].(map[string]interface{})
		if name, ok := content["subtask_name"].(string); ok && name != "" {
			completed++
		} else if path, ok := content["path"].(string); ok && path != "" {
			archivalPath = path
		}
	}

	if archivalPath == "" {
		env := readOutbound(t, scanner)
		require.Equal(t, "task_info", env["type"])
		content := env["content"].(map[string]interface{})
		archivalPath = content["path"].(string)
	}
	require.Contains(t, archivalPath, jobID)

	select {
	case <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("expected one archival session for the whole job, saw none")
	}

	select {
	case <-sessions:
		t.Fatal("expected exactly one archival session for the whole job, saw a second")
	case <-time.After(200 * time.Millisecond):
	}
}
