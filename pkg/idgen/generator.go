package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Generator produces the primary keys for users and linked identities.
type Generator interface {
	GenerateID() int64
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func() int64

func (f GeneratorFunc) GenerateID() int64 { return f() }

// SnowflakeGenerator implements Generator using Twitter Snowflake
type SnowflakeGenerator struct {
	node *snowflake.Node
	mu   sync.Mutex
}

// NewSnowflakeGenerator initializes a new ID generator.
// nodeID must be unique per server instance (0-1023) to prevent collisions.
func NewSnowflakeGenerator(nodeID int64) (*SnowflakeGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	return &SnowflakeGenerator{
		node: node,
	}, nil
}

func (g *SnowflakeGenerator) GenerateID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.node.Generate().Int64()
}

// Sequence returns a Generator yielding start, start+1, ... for deterministic tests.
func Sequence(start int64) Generator {
	var mu sync.Mutex
	next := start
	return GeneratorFunc(func() int64 {
		mu.Lock()
		defer mu.Unlock()
		id := next
		next++
		return id
	})
}
