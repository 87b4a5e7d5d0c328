package models

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// StatusResponse summarizes this node's view of the epoch window
type StatusResponse struct {
	Node         string `json:"node"`
	Lifecycle    string `json:"lifecycle"`
	MinEpoch     uint64 `json:"min_epoch"`
	MaxEpoch     uint64 `json:"max_epoch"`
	MappingEpoch uint64 `json:"mapping_epoch"`
}

// EpochResponse reports the sync state of a single epoch
type EpochResponse struct {
	Epoch        uint64 `json:"epoch"`
	SyncStatus   string `json:"sync_status"`
	Received     string `json:"received"`
	Acknowledged string `json:"acknowledged"`
	Reads        string `json:"reads"`
	Shards       int    `json:"shards"`
	Nodes        []int  `json:"nodes,omitempty"`
}

// RangeWatermark is one range's high-water epoch
type RangeWatermark struct {
	Range string `json:"range"`
	Epoch uint64 `json:"epoch"`
}

// NodeWatermark is one node's highest fully-synced epoch
type NodeWatermark struct {
	Node  string `json:"node"`
	Epoch uint64 `json:"epoch"`
}

// WatermarksResponse renders the collector snapshot
type WatermarksResponse struct {
	Closed  []RangeWatermark `json:"closed"`
	Retired []RangeWatermark `json:"retired"`
	Synced  []NodeWatermark  `json:"synced"`
}

// CatchupResponse acknowledges a watermark catch-up request
type CatchupResponse struct {
	Started bool   `json:"started"`
	Peers   int    `json:"peers"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse represents error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Path    string                 `json:"path,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}
