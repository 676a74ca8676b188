package migration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatementsCreateEveryTable(t *testing.T) {
	ddl := strings.Join(NewRunner().Statements(), "\n")
	for _, table := range []string{"sad_fits", "sad_obs_pred", "sad_batches", "sad_replicates", "sad_null_summaries", "sad_failures"} {
		assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS "+table)
	}
	for _, stmt := range NewRunner().Statements() {
		assert.Contains(t, stmt, "IF NOT EXISTS")
	}
	assert.Equal(t, "1.0.0", NewRunner().Version())
}
