package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/cuemby/fabric/pkg/errkinds"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/rs/zerolog"
)

// headerDelimiter separates the JSON header from the raw body on every
// archival connection (spec §4.8, confirmed byte-for-byte against
// original_source/image_transmission_guide.py).
const headerDelimiter = 0x0A

// retryBackoffUnit is the linear back-off step between archival
// retries (spec §4.8: "up to 3 retries with linear back-off").
const retryBackoffUnit = 300 * time.Millisecond

type singleImageContent struct {
	TaskID      string `json:"task_id"`
	SubtaskName string `json:"subtask_name"`
	ImageIndex  int    `json:"image_index"`
	TotalImages int    `json:"total_images"`
	Filename    string `json:"filename"`
	Filesize    int64  `json:"filesize"`
}

type singleImageMessage struct {
	Type    string              `json:"type"`
	Content singleImageContent `json:"content"`
}

type taskResultContent struct {
	TaskID      string `json:"task_id"`
	SubtaskName string `json:"subtask_name"`
	Result      string `json:"result"`
}

type taskResultMessage struct {
	Type    string            `json:"type"`
	Content taskResultContent `json:"content"`
}

// jobCompleteMarker is the subtask_name the completion envelope carries
// (spec §4.8, matching original_source/real_work.py's literal
// "main_task_complete" marker for its one-per-job send_task_completion_info call).
const jobCompleteMarker = "main_task_complete"

// Client ships finished frames and the job's completion result to the
// archival endpoint (spec §4.8). Every image is sent on its own
// connection, in index order, as its sub-task finishes; the task_result
// envelope is sent once, on an additional connection, only after the
// whole job's sub-tasks are all done.
type Client struct {
	addr        string
	dialTimeout time.Duration
	maxRetries  int
	log         zerolog.Logger
}

// New builds a Client targeting the fixed sink "ip:port" endpoint.
func New(addr string, dialTimeout time.Duration, maxRetries int) *Client {
	return &Client{
		addr:        addr,
		dialTimeout: dialTimeout,
		maxRetries:  maxRetries,
		log:         log.WithComponent("sink"),
	}
}

// ShipImages sends every image artifact result carries, in index
// order, one per connection. Called once per completed sub-task,
// independent of whether the job it belongs to has fully finished.
func (c *Client) ShipImages(jobID, subTaskID string, result *types.InferenceResult) error {
	total := len(result.Images)
	for i, img := range result.Images {
		if err := c.sendImageWithRetry(jobID, subTaskID, i+1, total, img); err != nil {
			return err
		}
	}
	return nil
}

// ShipJobResult sends the single task_result envelope for jobID once
// every one of its sub-tasks has finished (spec §4.8). summary
// describes the job's outcome across all sub-tasks, not any one of
// them.
func (c *Client) ShipJobResult(jobID, summary string) error {
	return c.sendTaskResultWithRetry(jobID, jobCompleteMarker, summary)
}

func (c *Client) sendImageWithRetry(jobID, subTaskID string, index, total int, img types.ImageArtifact) error {
	timer := metrics.NewTimer()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * retryBackoffUnit)
		}
		if err := c.sendImage(jobID, subTaskID, index, total, img); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("job_id", jobID).Str("subtask_id", subTaskID).
				Int("image_index", index).Int("attempt", attempt+1).Msg("archival send failed")
			continue
		}
		timer.ObserveDuration(metrics.ArchivalDuration)
		metrics.ArchivalSessions.WithLabelValues("ok").Inc()
		return nil
	}
	metrics.ArchivalSessions.WithLabelValues("failed").Inc()
	return fmt.Errorf("sink: image %d/%d for %s: %w: %v", index, total, subTaskID, errkinds.ErrArchivalFailed, lastErr)
}

func (c *Client) sendImage(jobID, subTaskID string, index, total int, img types.ImageArtifact) error {
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("dial sink: %w", err)
	}
	defer conn.Close()

	header := singleImageMessage{
		Type: "single_image",
		Content: singleImageContent{
			TaskID:      jobID,
			SubtaskName: subTaskID,
			ImageIndex:  index,
			TotalImages: total,
			Filename:    img.Filename,
			Filesize:    img.SizeBytes,
		},
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encode image header: %w", err)
	}
	if _, err := conn.Write(append(headerBytes, headerDelimiter)); err != nil {
		return fmt.Errorf("write image header: %w", err)
	}

	f, err := os.Open(img.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", img.Path, err)
	}
	defer f.Close()

	sent, err := io.Copy(conn, f)
	if err != nil {
		return fmt.Errorf("stream %s: %w", img.Path, err)
	}
	if sent != img.SizeBytes {
		return fmt.Errorf("%s: sent %d bytes, filesize declared %d: %w", img.Path, sent, img.SizeBytes, errkinds.ErrArchivalFailed)
	}
	return nil
}

func (c *Client) sendTaskResultWithRetry(jobID, subTaskID, result string) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * retryBackoffUnit)
		}
		if err := c.sendTaskResult(jobID, subTaskID, result); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Str("job_id", jobID).Str("subtask_id", subTaskID).
				Int("attempt", attempt+1).Msg("task_result send failed")
			continue
		}
		return nil
	}
	return fmt.Errorf("sink: task_result for %s: %w: %v", subTaskID, errkinds.ErrArchivalFailed, lastErr)
}

func (c *Client) sendTaskResult(jobID, subTaskID, result string) error {
	conn, err := net.DialTimeout("tcp", c.addr, c.dialTimeout)
	if err != nil {
		return fmt.Errorf("dial sink: %w", err)
	}
	defer conn.Close()

	msg := taskResultMessage{
		Type: "task_result",
		Content: taskResultContent{
			TaskID:      jobID,
			SubtaskName: subTaskID,
			Result:      result,
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode task_result: %w", err)
	}
	if _, err := conn.Write(append(body, headerDelimiter)); err != nil {
		return fmt.Errorf("write task_result: %w", err)
	}
	return nil
}
