package main

import (
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogger(t *testing.T) {
	prevFormatter := log.StandardLogger().Formatter
	prevLevel := log.GetLevel()
	t.Cleanup(func() {
		log.SetFormatter(prevFormatter)
		log.SetLevel(prevLevel)
	})

	require.NoError(t, setupLogger("json", "debug"))
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	require.NoError(t, setupLogger("text", "warn"))
	assert.IsType(t, &log.TextFormatter{}, log.StandardLogger().Formatter)
	assert.Equal(t, log.WarnLevel, log.GetLevel())

	assert.Error(t, setupLogger("text", "loud"))
}
