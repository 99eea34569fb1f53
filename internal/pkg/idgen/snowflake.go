package idgen

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// DefaultNodeID is used when GenerateID runs before Initialize
const DefaultNodeID int64 = 1

var (
	node    *snowflake.Node
	nodeErr error
	once    sync.Once
)

// Initialize sets up the Snowflake ID generator with a node ID.
// Only the first call has an effect; later calls return its error.
func Initialize(nodeID int64) error {
	once.Do(func() {
		node, nodeErr = snowflake.NewNode(nodeID)
	})
	return nodeErr
}

// GenerateID generates a new Snowflake ID as a string
func GenerateID() string {
	if err := Initialize(DefaultNodeID); err != nil {
		panic("idgen: " + err.Error())
	}
	return node.Generate().String()
}
