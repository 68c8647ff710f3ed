package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init configures the Snowflake node. Call once at process start;
// later calls are no-ops so shared test helpers can Init safely.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns a time-ordered int64 id, unique across daemon instances
// as long as each instance was initialized with a distinct node id.
func New() int64 {
	return node.Generate().Int64()
}
