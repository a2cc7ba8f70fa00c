package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReport(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"categories": [
			{"id": "performance", "title": "Performance", "score": 0.92},
			{"id": "seo", "score": 1}
		],
		"metrics": {"ttfb_ms": 120.5, "load_ms": 2400},
		"opportunities": [
			{"id": "unused-css", "title": "Reduce unused CSS", "savings_ms": 300}
		]
	}`)

	rep, err := parseReport(raw)
	require.NoError(t, err)
	require.Len(t, rep.Categories, 2)
	assert.Equal(t, "performance", rep.Categories[0].ID)
	assert.InDelta(t, 0.92, rep.Categories[0].Score, 1e-9)
	require.NotNil(t, rep.Metrics)
	assert.InDelta(t, 120.5, rep.Metrics.TTFBMs, 1e-9)
	require.Len(t, rep.Opportunities, 1)
	assert.InDelta(t, 300, rep.Opportunities[0].SavingsMs, 1e-9)
}

func TestParseReportShapeErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `<html>crash page</html>`},
		{"no categories", `{"metrics": {}}`},
		{"category missing id", `{"categories": [{"score": 0.5}]}`},
		{"score out of range", `{"categories": [{"id": "performance", "score": 1.5}]}`},
		{"opportunity missing id", `{"categories": [{"id": "seo", "score": 1}], "opportunities": [{"title": "x"}]}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := parseReport([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestParseNodeMajor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in    string
		major int
		ok    bool
	}{
		{"v20.11.1", 20, true},
		{"18.0.0", 18, true},
		{" v22.1.0 ", 22, true},
		{"garbage", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		major, ok := parseNodeMajor(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.Equal(t, tc.major, major, "input %q", tc.in)
		}
	}
}

func TestCheckNode(t *testing.T) {
	t.Parallel()

	capture := func(version string, err error) CommandOutput {
		return func(name string, args ...string) (string, error) {
			require.Equal(t, "node", name)
			return version, err
		}
	}

	ok := CheckNode(capture("v20.11.1", nil), 20)
	assert.True(t, ok.OK)
	assert.Contains(t, ok.Detail, "v20.11.1")

	old := CheckNode(capture("v18.19.0", nil), 20)
	assert.False(t, old.OK)
	assert.Contains(t, old.Detail, "below required")

	missing := CheckNode(capture("", errors.New("exec: not found")), 20)
	assert.False(t, missing.OK)
	assert.Contains(t, missing.Detail, "not found")

	garbled := CheckNode(capture("nonsense", nil), 20)
	assert.False(t, garbled.OK)
	assert.Contains(t, garbled.Detail, "unrecognized")
}
