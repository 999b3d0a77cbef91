package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/pool"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/cuemby/fabric/pkg/wire"
	"github.com/rs/zerolog"
)

// JobManager is the narrow view of the Task Manager (C6) the gateway
// needs: submit a new job and look one up by ID.
type JobManager interface {
	CreateJob(jobID, mediaLocator string, totalFrames int) (*types.Job, error)
	Job(jobID string) (*types.Job, bool)
}

// Gateway is the Front-end Gateway (spec §4.7): one TCP listener
// accepting JSON control messages, forwarding job submissions to the
// Task Manager and node-info queries to the local Node Agent, and
// streaming progress events back on the same connection.
type Gateway struct {
	nodeAddr string
	jobs     JobManager
	pool     *pool.Pool
	broker   *events.Broker
	log      zerolog.Logger
}

// New builds a Gateway. nodeAddr is the local Node Agent's "ip:port",
// queried for get_nodes_info on node_info/start_all requests.
func New(nodeAddr string, jobs JobManager, p *pool.Pool, broker *events.Broker) *Gateway {
	return &Gateway{
		nodeAddr: nodeAddr,
		jobs:     jobs,
		pool:     p,
		broker:   broker,
		log:      log.WithComponent("gateway"),
	}
}

// Serve accepts front-end connections until ctx is canceled.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("gateway: accept: %w", err)
			}
		}
		go g.handleConn(ctx, conn)
	}
}

func (g *Gateway) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeMu sync.Mutex
	write := func(env *outboundEnvelope) {
		writeMu.Lock()
		defer writeMu.Unlock()
		body, err := json.Marshal(env)
		if err != nil {
			g.log.Error().Err(err).Str("out_type", env.Type).Msg("encode outbound message")
			return
		}
		body = append(body, '\n')
		if _, err := conn.Write(body); err != nil {
			g.log.Debug().Err(err).Msg("write to front-end failed, closing connection")
			cancel()
		}
	}

	sub := g.broker.Subscribe()
	defer g.broker.Unsubscribe(sub)
	go g.forward(connCtx, sub, write)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if connCtx.Err() != nil {
			return
		}
		var in inboundEnvelope
		if err := json.Unmarshal(scanner.Bytes(), &in); err != nil {
			g.log.Warn().Err(err).Msg("malformed front-end message")
			continue
		}
		g.dispatch(connCtx, in, write)
	}
}

func (g *Gateway) dispatch(ctx context.Context, in inboundEnvelope, write func(*outboundEnvelope)) {
	switch in.Type {
	case "create_tasks":
		g.handleCreateTasks(in, write)
	case "start_all":
		g.handleStartAll(ctx, write)
	case "node_info":
		g.handleNodeInfo(ctx, write)
	case "shutdown":
		g.handleShutdown(ctx)
	case "get_flying":
		g.log.Debug().Msg("get_flying forwarded to flight collaborator")
	case "update_node_info":
		g.handleUpdateNodeInfo(ctx, in)
	case "add_new_node":
		g.log.Debug().Msg("add_new_node forwarded to flight collaborator")
	default:
		g.log.Warn().Str("type", in.Type).Msg("unrecognized front-end message type")
	}
}

func (g *Gateway) handleCreateTasks(in inboundEnvelope, write func(*outboundEnvelope)) {
	var content createTasksContent
	if err := json.Unmarshal(in.Content, &content); err != nil {
		g.log.Warn().Err(err).Msg("malformed create_tasks content")
		return
	}
	totalFrames := content.TotalFrames
	if totalFrames == 0 {
		totalFrames = config.DefaultGroupCount * config.DefaultSubTaskCount
	}

	job, err := g.jobs.CreateJob(content.JobID, content.Media, totalFrames)
	if err != nil {
		g.log.Warn().Err(err).Str("job_id", content.JobID).Msg("create_tasks failed")
		return
	}

	subtasksInfo := make(map[string][]string, len(job.Groups))
	tasksInfo := make(map[string][]string)
	for _, group := range job.Groups {
		groupName := fmt.Sprintf("%s_%d", job.ID, group.Index)
		names := make([]string, len(group.SubTasks))
		for i, st := range group.SubTasks {
			names[i] = st.ID
			tasksInfo[st.NodeID] = append(tasksInfo[st.NodeID], st.ID)
		}
		subtasksInfo[groupName] = names
	}

	write(&outboundEnvelope{Type: "Subtasks_info", Content: subtasksInfo})
	write(&outboundEnvelope{Type: "tasks_info", Content: tasksInfo})
}

func (g *Gateway) handleStartAll(ctx context.Context, write func(*outboundEnvelope)) {
	nodes, err := g.queryNodes(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("start_all: node query failed")
		return
	}
	write(&outboundEnvelope{Type: "start_success", Content: toDescriptorSet(nodes)})
}

func (g *Gateway) handleNodeInfo(ctx context.Context, write func(*outboundEnvelope)) {
	nodes, err := g.queryNodes(ctx)
	if err != nil {
		g.log.Warn().Err(err).Msg("node_info: node query failed")
		return
	}
	write(&outboundEnvelope{Type: "ans_node_info", Content: toDescriptorSet(nodes)})
	write(&outboundEnvelope{Type: "cluster_info", Content: clusterByRadius(nodes)})
}

func (g *Gateway) handleShutdown(ctx context.Context) {
	err := g.pool.WithConn(g.nodeAddr, func(conn net.Conn) error {
		return wire.SendMessage(conn, &wire.Envelope{Kind: wire.KindShutdown})
	})
	if err != nil {
		g.log.Warn().Err(err).Msg("shutdown: could not reach local node agent")
	}
	g.pool.Evict(g.nodeAddr)
}

func (g *Gateway) handleUpdateNodeInfo(ctx context.Context, in inboundEnvelope) {
	var content updateNodeInfoContent
	if err := json.Unmarshal(in.Content, &content); err != nil {
		g.log.Warn().Err(err).Msg("malformed update_node_info content")
		return
	}
	target := in.NextNode
	if target == "" {
		target = g.nodeAddr
	}
	env := &wire.Envelope{
		Kind: wire.KindUpdateNodeInfo,
		Resources: &wire.ResourceUpdate{
			CPU:       content.CPU,
			Bandwidth: content.Bandwidth,
			Memory:    content.Memory,
		},
	}
	if err := g.pool.WithConn(target, func(conn net.Conn) error {
		return wire.SendMessage(conn, env)
	}); err != nil {
		g.log.Warn().Err(err).Str("node", target).Msg("update_node_info: send failed")
	}
}

func (g *Gateway) queryNodes(ctx context.Context) ([]*types.NodeDescriptor, error) {
	var reply *wire.Envelope
	err := g.pool.WithConn(g.nodeAddr, func(conn net.Conn) error {
		if err := wire.SendMessage(conn, &wire.Envelope{Kind: wire.KindGetNodesInfo}); err != nil {
			return fmt.Errorf("send get_nodes_info: %w", err)
		}
		var err error
		reply, err = wire.ReceiveMessage(conn, 5*time.Second)
		if err != nil {
			return fmt.Errorf("receive ans_nodes_info: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply.Nodes, nil
}

func toDescriptorSet(nodes []*types.NodeDescriptor) clusterDescriptorSet {
	set := clusterDescriptorSet{}
	for _, n := range nodes {
		set.NodesName = append(set.NodesName, n.ID)
		set.DealSpeed = append(set.DealSpeed, n.ProcessingSpeed)
		set.Radius = append(set.Radius, n.SenseRadius)
		set.Memory = append(set.Memory, n.TotalStorage)
		set.LeftBandwidth = append(set.LeftBandwidth, n.FreeBandwidth)
		set.X = append(set.X, n.X)
		set.Y = append(set.Y, n.Y)
		set.CPUUsedRate = append(set.CPUUsedRate, n.CPUUsedRate)
	}
	return set
}
