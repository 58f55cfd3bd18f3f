package modules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiTautologyWithComment(t *testing.T) {
	rec := queryRecord("id", "' OR 1=1--")
	res := NewSQLi().Analyze(rec)
	require.NotNil(t, res)

	ids := patternIDs(res)
	assert.True(t, ids["boolean-tautology"])
	assert.True(t, ids["comment-dash"])
	assert.True(t, ids["commented-probe"])
	assert.Equal(t, 7.0, res.Score)
}

func TestSQLiStackedDropTable(t *testing.T) {
	rec := queryRecord("id", "'; DROP TABLE users--")
	res := NewSQLi().Analyze(rec)
	require.NotNil(t, res)

	ids := patternIDs(res)
	assert.True(t, ids["drop-table"])
	assert.True(t, ids["stacked-query"])
	assert.True(t, ids["stacked-statement"])
	assert.Equal(t, 12.0, res.Score)
}

func TestSQLiUnionSchemaDiscovery(t *testing.T) {
	rec := queryRecord("id", "' UNION SELECT table_name FROM information_schema.tables--")
	res := NewSQLi().Analyze(rec)
	require.NotNil(t, res)

	ids := patternIDs(res)
	assert.True(t, ids["union-select"])
	assert.True(t, ids["information-schema"])
	assert.True(t, ids["union-schema-discovery"])
	assert.True(t, ids["commented-probe"])
}

func TestSQLiTimingProbe(t *testing.T) {
	rec := queryRecord("id", "1 AND 1=1 UNION SELECT sleep(5)")
	res := NewSQLi().Analyze(rec)
	require.NotNil(t, res)

	ids := patternIDs(res)
	assert.True(t, ids["time-based"])
	assert.True(t, ids["blind-timing"])
}

func TestSQLiBenign(t *testing.T) {
	assert.Nil(t, NewSQLi().Analyze(queryRecord("q", "cheap flights to oslo")))
}

func TestSQLiScoreMonotonic(t *testing.T) {
	rec := queryRecord("id", "'; DROP TABLE users--")
	before := rec.Score
	res := NewSQLi().Analyze(rec)
	require.NotNil(t, res)
	assert.GreaterOrEqual(t, res.Score, before)
	for _, th := range res.Threats {
		assert.GreaterOrEqual(t, th.Score, 0.0)
	}
}
