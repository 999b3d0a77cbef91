package sink

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/fabric/pkg/types"
	"github.com/stretchr/testify/require"
)

type recordedImage struct {
	header singleImageContent
	body   []byte
}

type recordedResult struct {
	header taskResultContent
}

// startFakeSink accepts connections and records whichever message type
// it receives, distinguishing single_image from task_result bodies.
func startFakeSink(t *testing.T) (addr string, images chan recordedImage, results chan recordedResult) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	images = make(chan recordedImage, 16)
	results = make(chan recordedResult, 16)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				line, err := r.ReadBytes(headerDelimiter)
				if err != nil {
					return
				}
				line = line[:len(line)-1]

				var probe struct {
					Type string `json:"type"`
				}
				if err := json.Unmarshal(line, &probe); err != nil {
					return
				}

				switch probe.Type {
				case "single_image":
					var msg singleImageMessage
					_ = json.Unmarshal(line, &msg)
					body, _ := io.ReadAll(r)
					images <- recordedImage{header: msg.Content, body: body}
				case "task_result":
					var msg taskResultMessage
					_ = json.Unmarshal(line, &msg)
					results <- recordedResult{header: msg.Content}
				}
			}(conn)
		}
	}()
	return ln.Addr().String(), images, results
}

func TestShipImagesSendsEveryArtifact(t *testing.T) {
	addr, images, _ := startFakeSink(t)

	dir := t.TempDir()
	path1 := filepath.Join(dir, "frame1.jpg")
	content1 := []byte("first frame bytes")
	require.NoError(t, os.WriteFile(path1, content1, 0o600))

	path2 := filepath.Join(dir, "frame2.jpg")
	content2 := []byte("second frame bytes, a bit longer")
	require.NoError(t, os.WriteFile(path2, content2, 0o600))

	c := New(addr, time.Second, 3)
	result := &types.InferenceResult{
		SubTaskID: "job-1_0_0",
		Summary:   "2 frames processed",
		Images: []types.ImageArtifact{
			{Index: 1, Filename: "frame1.jpg", Path: path1, SizeBytes: int64(len(content1))},
			{Index: 2, Filename: "frame2.jpg", Path: path2, SizeBytes: int64(len(content2))},
		},
	}

	err := c.ShipImages("job-1", "job-1_0_0", result)
	require.NoError(t, err)

	img1 := <-images
	require.Equal(t, 1, img1.header.ImageIndex)
	require.Equal(t, 2, img1.header.TotalImages)
	require.Equal(t, content1, img1.body)

	img2 := <-images
	require.Equal(t, 2, img2.header.ImageIndex)
	require.Equal(t, content2, img2.body)
}

func TestShipJobResultSendsOneTaskResultEnvelope(t *testing.T) {
	addr, _, results := startFakeSink(t)

	c := New(addr, time.Second, 3)
	err := c.ShipJobResult("job-1", "job completed, processed 10/10 sub-tasks")
	require.NoError(t, err)

	res := <-results
	require.Equal(t, "job-1", res.header.TaskID)
	require.Equal(t, jobCompleteMarker, res.header.SubtaskName)
	require.Equal(t, "job completed, processed 10/10 sub-tasks", res.header.Result)
}

func TestSendImageFailsOnSizeMismatch(t *testing.T) {
	addr, _, _ := startFakeSink(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "frame.jpg")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0o600))

	c := New(addr, time.Second, 0)
	img := types.ImageArtifact{Filename: "frame.jpg", Path: path, SizeBytes: 999}
	err := c.sendImage("job-1", "job-1_0_0", 1, 1, img)
	require.Error(t, err)
}

func TestShipImagesFailsWhenSinkUnreachable(t *testing.T) {
	c := New("127.0.0.1:1", 50*time.Millisecond, 1)
	result := &types.InferenceResult{
		SubTaskID: "job-1_0_0",
		Images:    []types.ImageArtifact{{Filename: "x.jpg", Path: "/nonexistent", SizeBytes: 1}},
	}
	err := c.ShipImages("job-1", "job-1_0_0", result)
	require.Error(t, err)
}
