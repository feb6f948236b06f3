package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("nonsense"))
}

func TestBuild_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Component(build(&buf, zerolog.InfoLevel, false, false), "grader")

	log.Debug().Msg("hidden")
	log.Info().Str("submission_id", "s1").Msg("graded")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "grader", entry["component"])
	assert.Equal(t, "s1", entry["submission_id"])
	assert.Equal(t, "graded", entry["message"])
	assert.NotContains(t, entry, "caller")
}
