package models

const (
	DefaultPort     = 5810
	DefaultIdentity = "ntmirror"
)

/*
	Target of a connection. Either a team number, which the bus resolves to
	the robot's default addresses, or an explicit server host. When both are
	given the explicit server is used.
*/

type ConnectionTarget struct {
	Team     int    `json:"team_number,omitempty" yaml:"team,omitempty"`
	Server   string `json:"server_ip,omitempty" yaml:"server,omitempty"`
	Port     int    `json:"server_port" yaml:"port"`
	Identity string `json:"identity" yaml:"identity"`
}

type ResolutionMode string

const (
	ResolutionNone   ResolutionMode = ""
	ResolutionServer ResolutionMode = "server"
	ResolutionTeam   ResolutionMode = "team"
)

// Mode reports which field of the target decides the address.
func (t ConnectionTarget) Mode() ResolutionMode {
	if t.Server != "" {
		return ResolutionServer
	}
	if t.Team > 0 {
		return ResolutionTeam
	}
	return ResolutionNone
}

// WithDefaults fills in the port and identity when unset.
func (t ConnectionTarget) WithDefaults() ConnectionTarget {
	if t.Port == 0 {
		t.Port = DefaultPort
	}
	if t.Identity == "" {
		t.Identity = DefaultIdentity
	}
	return t
}

/*
	Topic metadata as announced by the remote peer. The property bag is
	replaced wholesale whenever the peer changes properties.
*/

type TopicInfo struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

/*
	ValueEvent is a value change as the bus delivers it. Timestamps are
	microsecond counters: LastChange is when the value changed at its source,
	ServerTime is that instant on the server clock and Received is when the
	local transport took the update.
*/

type ValueEvent struct {
	Topic      string
	Type       string
	Value      Value
	LastChange int64
	ServerTime int64
	Received   int64
}

// ValueRecord is a decoded value with its timestamps rendered to wall clock.
type ValueRecord struct {
	Valid      bool   `json:"valid" yaml:"valid" cbor:"valid"`
	LastChange string `json:"last_change" yaml:"last_change" cbor:"last_change"`
	ServerTime string `json:"server_time" yaml:"server_time" cbor:"server_time"`
	LocalTime  string `json:"local_time" yaml:"local_time" cbor:"local_time"`
	Type       string `json:"type" yaml:"type" cbor:"type"`
	Size       int    `json:"size" yaml:"size" cbor:"size"`
	Value      any    `json:"value" yaml:"value" cbor:"value"`
}

// TimeSyncInfo is the latest clock synchronization estimate. Ping and Drift
// are in microseconds.
type TimeSyncInfo struct {
	Valid bool  `json:"valid"`
	Ping  int64 `json:"ping"`
	Drift int64 `json:"drift"`
}

type PeerInfo struct {
	RemoteID        string `json:"remote_id"`
	RemoteIP        string `json:"remote_ip"`
	RemotePort      int    `json:"remote_port"`
	ProtocolVersion int    `json:"protocol_version"`
	LastUpdate      int64  `json:"last_updated"`
}

type ConnectionInfo struct {
	Connected       bool             `json:"connected"`
	ConnectionCount int              `json:"connection_count"`
	Connections     []PeerInfo       `json:"connections"`
	Config          ConnectionTarget `json:"config"`
}
