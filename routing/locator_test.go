package routing

import (
	"testing"

	"github.com/cocaine/rpcproxy/cocaine"
	"github.com/stretchr/testify/assert"
)

func TestTableFromUpdate(t *testing.T) {
	table := TableFromUpdate(cocaine.RoutingUpdate{
		"group": {{Boundary: 1 << 32, Version: "v2"}, {Boundary: 1 << 30, Version: "v1"}},
		"empty": nil,
	})

	assert.Equal(t, Table{
		"group": {{Boundary: 1 << 30, Version: "v1"}, {Boundary: 1 << 32, Version: "v2"}},
		"empty": {},
	}, table)
}
