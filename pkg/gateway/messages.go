package gateway

import "encoding/json"

// inboundEnvelope is the generic shape every front-end control message
// shares before its type-specific content is decoded (spec §4.7, §6).
type inboundEnvelope struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
	NextNode string         `json:"next_node"`
}

// outboundEnvelope is the generic shape of every progress/reply
// message sent back to the front end.
type outboundEnvelope struct {
	Type     string      `json:"type"`
	Content  interface{} `json:"content"`
	NextNode string      `json:"next_node"`
}

type createTasksContent struct {
	Media       string `json:"media"`
	JobID       string `json:"job_id"`
	TotalFrames int    `json:"total_frames"`
}

type updateNodeInfoContent struct {
	CPU       int64 `json:"cpu"`
	Bandwidth int64 `json:"bandwidth"`
	Memory    int64 `json:"memory"`
}

type addNewNodeContent struct {
	Port      int   `json:"port"`
	CPUMemory int64 `json:"cpu_memory"`
	Bandwidth int64 `json:"bandwidth"`
}

// clusterDescriptorSet is the columnar node-info reply shape used by
// both ans_node_info and start_success (spec §4.7, grounded on
// original_source/real_work.py's per-field list encoding).
type clusterDescriptorSet struct {
	NodesName     []string  `json:"nodes_name"`
	DealSpeed     []float64 `json:"deal_speed"`
	Radius        []float64 `json:"radius"`
	Memory        []int64   `json:"memory"`
	LeftBandwidth []int64   `json:"left_bandwidth"`
	X             []float64 `json:"x"`
	Y             []float64 `json:"y"`
	CPUUsedRate   []float64 `json:"cpu_used_rate"`
}

type taskInfoContent struct {
	NodeName    string `json:"node_name"`
	DealTime    string `json:"deal_time"`
	SubtaskName string `json:"subtask_name"`
	TaskName    string `json:"task_name"`
	Path        string `json:"path"`
}

type reassignInfoContent struct {
	OldNodeName string `json:"old_node_name"`
	SubtaskName string `json:"subtask_name"`
	TaskName    string `json:"task_name"`
	NewNodeName string `json:"new_node_name"`
}
