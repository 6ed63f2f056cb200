package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := Component(New(&buf, zerolog.InfoLevel), "zonal")

	log.Info().Str("op", "stats").Msg("done")
	log.Debug().Msg("filtered")

	out := buf.String()
	assert.Contains(t, out, `"component":"zonal"`)
	assert.Contains(t, out, `"op":"stats"`)
	assert.NotContains(t, out, "filtered")
}
