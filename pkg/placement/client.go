package placement

import (
	"fmt"
	"net"
	"time"

	"github.com/cuemby/fabric/pkg/errkinds"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/cuemby/fabric/pkg/wire"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Client talks to the external placement oracle (spec §4.5).
type Client struct {
	oracleAddr  string
	dialTimeout time.Duration
	log         zerolog.Logger
}

// New builds a Client pointed at the oracle's fixed "ip:port" address.
func New(oracleAddr string, dialTimeout time.Duration) *Client {
	return &Client{
		oracleAddr:  oracleAddr,
		dialTimeout: dialTimeout,
		log:         log.WithComponent("placement"),
	}
}

// AskGroup submits one group's DAG and frame sizes to the oracle under
// short, job-agnostic task names and returns the assignment re-qualified
// into full sub-task IDs.
func (c *Client) AskGroup(jobID string, groupIndex int, group *types.Group) (map[string]string, error) {
	names := make([]string, len(group.SubTasks))
	sizes := make([]int64, len(group.SubTasks))
	for i, st := range group.SubTasks {
		names[i] = shortName(i)
		sizes[i] = st.SizeBytes
	}

	query := &types.PlacementQuery{
		JobID:      jobID,
		GroupIndex: groupIndex,
		TaskNames:  names,
		Adjacency:  group.Adjacency,
		Sizes:      sizes,
	}

	reqID := uuid.NewString()
	log := c.log.With().Str("request_id", reqID).Str("job_id", jobID).Int("group", groupIndex).Logger()
	log.Debug().Msg("asking oracle for placement")

	timer := metrics.NewTimer()
	answer, err := c.ask(query)
	timer.ObserveDuration(metrics.PlacementLatency)
	if err != nil {
		metrics.PlacementFailures.Inc()
		log.Warn().Err(err).Msg("placement request failed")
		return nil, err
	}

	qualified := make(map[string]string, len(answer.Assignment))
	for _, a := range answer.Assignment {
		qualified[qualify(jobID, groupIndex, a.Task)] = a.Node
	}
	return qualified, nil
}

// ReplaceOne asks the oracle to place a single sub-task in isolation
// (spec §4.6 step 6: a failed sub-task is re-placed on its own, not as
// part of its original group's DAG). It wraps AskGroup with a
// synthetic one-task, edge-free group so the oracle sees the same
// query shape it always does.
func (c *Client) ReplaceOne(jobID string, groupIndex int, sizeBytes int64) (string, error) {
	group := &types.Group{
		Index:     groupIndex,
		SubTasks:  []*types.SubTask{{SizeBytes: sizeBytes}},
		Adjacency: [][]bool{{false}},
	}
	assignment, err := c.AskGroup(jobID, groupIndex, group)
	if err != nil {
		return "", err
	}
	id := qualify(jobID, groupIndex, shortName(0))
	node, ok := assignment[id]
	if !ok {
		return "", fmt.Errorf("placement: oracle did not place replacement task: %w", errkinds.ErrPlacementUnavailable)
	}
	return node, nil
}

func (c *Client) ask(query *types.PlacementQuery) (*types.PlacementAnswer, error) {
	conn, err := net.DialTimeout("tcp", c.oracleAddr, c.dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("placement: dial oracle %s: %w: %v", c.oracleAddr, errkinds.ErrPlacementUnavailable, err)
	}
	defer conn.Close()

	env := &wire.Envelope{Kind: wire.KindAsk, PlacementQuery: query}
	if err := wire.SendMessage(conn, env); err != nil {
		return nil, fmt.Errorf("placement: send ask: %w: %v", errkinds.ErrPlacementUnavailable, err)
	}

	reply, err := wire.ReceiveMessage(conn, 0)
	if err != nil {
		return nil, fmt.Errorf("placement: receive placement: %w: %v", errkinds.ErrPlacementUnavailable, err)
	}
	if reply.Kind != wire.KindPlacement || reply.PlacementAnswer == nil || len(reply.PlacementAnswer.Assignment) == 0 {
		return nil, fmt.Errorf("placement: empty or malformed mapping from oracle: %w", errkinds.ErrPlacementUnavailable)
	}
	return reply.PlacementAnswer, nil
}
