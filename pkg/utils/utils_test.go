package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoalesceString(t *testing.T) {
	assert.Equal(t, "", CoalesceString())
	assert.Equal(t, "", CoalesceString("", ""))
	assert.Equal(t, "drone-agent", CoalesceString("", "drone-agent", "fallback"))
	assert.Equal(t, "configs/drone.yaml", CoalesceString("configs/drone.yaml", "other.yaml"))
}

func TestDefaultInt(t *testing.T) {
	assert.Equal(t, 30, DefaultInt(0, 30))
	assert.Equal(t, 10, DefaultInt(10, 30))
	assert.Equal(t, -1, DefaultInt(-1, 30), "only zero is treated as unset")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hover", Truncate("hover", 10))
	assert.Equal(t, "hov...", Truncate("hover", 3))
	assert.Equal(t, "起飞...", Truncate("起飞并前进", 2))
	assert.Equal(t, "land", Truncate("land", -1))
}
