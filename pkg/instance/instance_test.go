package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetIDPrefersDyno(t *testing.T) {
	t.Setenv("DYNO", "web.1")
	t.Setenv("WORKER_ID", "worker-3")
	assert.Equal(t, "web.1", GetID("local"))
}

func TestGetIDWorkerID(t *testing.T) {
	t.Setenv("DYNO", "")
	t.Setenv("WORKER_ID", "worker-3")
	assert.Equal(t, "worker-3", GetID("local"))
}

func TestGetIDFallsBackToHost(t *testing.T) {
	t.Setenv("DYNO", "")
	t.Setenv("WORKER_ID", "")
	assert.NotEmpty(t, GetID("local"))
}
