package main

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRedis(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		assert.Nil(t, connectRedis(""))
	})

	t.Run("reachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := connectRedis("redis://" + mr.Addr())
		require.NotNil(t, rdb)
		_ = rdb.Close()
	})

	t.Run("unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()
		assert.Nil(t, connectRedis("redis://"+addr))
	})
}

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{})
	})

	setupLogging("debug", "json")
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	setupLogging("nonsense", "text")
	assert.Equal(t, log.InfoLevel, log.GetLevel())
	assert.IsType(t, &log.TextFormatter{}, log.StandardLogger().Formatter)
}
