package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

const defaultNode = 1

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init binds token generation to a node. Each orchestrator replica sharing a
// ledger needs its own node id. The first successful call wins.
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()
	if node != nil {
		return nil
	}
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	node = n
	return nil
}

// NewToken returns a time-ordered base36 token for request identifiers.
// Falls back to the default node when Init was never called.
func NewToken() string {
	mu.Lock()
	if node == nil {
		node, _ = snowflake.NewNode(defaultNode)
	}
	n := node
	mu.Unlock()
	return n.Generate().Base36()
}
