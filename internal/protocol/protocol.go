package protocol

import "encoding/json"

const Version = "0.9"

// SupportedVersions lists the server versions this agent can talk to, newest first.
var SupportedVersions = []string{Version, "0.8"}

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeCatalog = "CATALOG"
	TypeObs     = "OBS"
	TypeAct     = "ACT"
)

// Catalog names the agent consumes.
const (
	CatalogBlockPalette = "block_palette"
	CatalogItemPalette  = "item_palette"
	CatalogItemTags     = "item_tags"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// IsSupportedVersion reports whether v is one of SupportedVersions.
// An empty version is accepted; older servers omit it on CATALOG frames.
func IsSupportedVersion(v string) bool {
	if v == "" {
		return true
	}
	for _, s := range SupportedVersions {
		if s == v {
			return true
		}
	}
	return false
}
