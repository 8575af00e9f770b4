package protocol

type ObsMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	AgentID         string `json:"agent_id"`
	WorldID         string `json:"world_id,omitempty"`

	Self      SelfObs     `json:"self"`
	Inventory []ItemStack `json:"inventory"`

	Voxels   VoxelsObs   `json:"voxels"`
	Entities []EntityObs `json:"entities"`
	Events   []Event     `json:"events"`
	Tasks    []TaskObs   `json:"tasks"`
}

type SelfObs struct {
	Pos [3]int `json:"pos"`
	Yaw int    `json:"yaw"`
	HP  int    `json:"hp"`
}

type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

type VoxelsObs struct {
	Center   [3]int         `json:"center"`
	Radius   int            `json:"radius"`
	Encoding string         `json:"encoding"` // "RLE" or "DELTA"
	Data     string         `json:"data,omitempty"`
	Ops      []VoxelDeltaOp `json:"ops,omitempty"`
}

type VoxelDeltaOp struct {
	D [3]int `json:"d"` // delta from center (dx,dy,dz)
	B uint16 `json:"b"` // block palette id
}

type EntityObs struct {
	ID   string   `json:"id"`
	Type string   `json:"type"` // "AGENT", "CHEST", "ITEM_FRAME", ...
	Pos  [3]int   `json:"pos"`
	Tags []string `json:"tags,omitempty"`

	// Displayed or dropped item for ITEM / ITEM_FRAME entities.
	Item  string `json:"item,omitempty"`
	Count int    `json:"count,omitempty"`
}

type TaskObs struct {
	TaskID   string  `json:"task_id"`
	Kind     string  `json:"kind"`
	Progress float64 `json:"progress"`
	Target   [3]int  `json:"target,omitempty"`
}

// ACT (client -> server)
type ActMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	Tick            uint64    `json:"tick"`
	AgentID         string    `json:"agent_id"`
	Tasks           []TaskReq `json:"tasks,omitempty"`
	Cancel          []string  `json:"cancel,omitempty"`
}

// Task kinds the sorter issues.
const (
	TaskMoveTo   = "MOVE_TO"
	TaskOpen     = "OPEN"
	TaskTransfer = "TRANSFER"
)

// SelfContainer addresses the agent's own inventory in TRANSFER tasks.
const SelfContainer = "SELF"

type TaskReq struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	Target    [3]int  `json:"target,omitempty"`
	Tolerance float64 `json:"tolerance,omitempty"`

	TargetID string `json:"target_id,omitempty"`
	Src      string `json:"src_container,omitempty"`
	Dst      string `json:"dst_container,omitempty"`

	ItemID string `json:"item_id,omitempty"`
	Count  int    `json:"count,omitempty"`
}
