package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tndd/datadoggo-v3-alpaca/internal/config"
	"github.com/tndd/datadoggo-v3-alpaca/internal/model"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "datadoggo:jobrun:abc", JobRunKey("abc"))
	assert.Equal(t, "datadoggo:jobrun:latest:news", LatestJobRunKey(model.JobNews))
}

func TestTTLSet(t *testing.T) {
	ttl := NewTTLSet(config.CacheTTL{})
	assert.Equal(t, time.Hour, ttl.For(model.RunRunning))
	assert.Equal(t, 7*24*time.Hour, ttl.For(model.RunPartial))

	ttl = NewTTLSet(config.CacheTTL{Active: 60, Finished: -1})
	assert.Equal(t, time.Minute, ttl.For(model.RunPending))
	assert.Zero(t, ttl.For(model.RunFailed))
}
