package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithOutput(&buf, "info", "json")
	require.NoError(t, err)

	l.WithField("primaryId", 1).Info("reconciliation complete")
	l.Debug("dropped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "reconciliation complete", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(1), entry["primaryId"])
}

func TestTextOutput(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewWithOutput(&buf, "debug", "text")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	l.Debug("starting identity reconciliation")
	assert.Contains(t, buf.String(), "starting identity reconciliation")
}

func TestInvalidLevel(t *testing.T) {
	_, err := New("loud", "text")
	assert.Error(t, err)
}
