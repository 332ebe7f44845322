package observerproto

// Version is the observer protocol version.
const Version = "1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Types limits network reports to these resource types ("energy", "fluid", "item"). Empty means all.
	Types      []string `json:"types,omitempty"`
	Machines   bool     `json:"machines,omitempty"`
	ErrorsOnly bool     `json:"errors_only,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	WorldID         string   `json:"world_id"`
	Tick            uint64   `json:"tick"`
	TickRateHz      int      `json:"tick_rate_hz"`
	Namespace       string   `json:"namespace"`
	Blocks          []string `json:"blocks"`
}

// Server -> Client. Sent every tick; a slow client only ever gets the latest one.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Digest          string `json:"digest"`

	Networks []NetworkState `json:"networks"`
	Machines []MachineState `json:"machines,omitempty"`
}

type NetworkState struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	Nodes   int    `json:"nodes"`
	Members int    `json:"members"`
	Moved   string `json:"moved"`
	Error   string `json:"error,omitempty"`
}

type MachineState struct {
	Pos      [3]int  `json:"pos"`
	Type     string  `json:"type"`
	Status   string  `json:"status"`
	Recipe   string  `json:"recipe,omitempty"`
	Progress float64 `json:"progress"`
}
