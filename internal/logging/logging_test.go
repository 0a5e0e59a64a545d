package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/parkflow/parking-booking-backend/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	logger := New("debug", config.LoggingConfig{})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	fallback := New("chatty", config.LoggingConfig{})
	assert.Equal(t, logrus.InfoLevel, fallback.GetLevel())
}

func TestOutput_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api.log")
	var stdout bytes.Buffer

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(Output(&stdout, config.LoggingConfig{File: path, MaxSizeMB: 1}))
	logger.WithField("booking_reference", "PK-ABCDEFGH").Info("Booking confirmed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &line))
	assert.Equal(t, "PK-ABCDEFGH", line["booking_reference"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Booking confirmed")
}

func TestOutput_StdoutOnly(t *testing.T) {
	var stdout bytes.Buffer
	assert.Same(t, &stdout, Output(&stdout, config.LoggingConfig{}))
}
