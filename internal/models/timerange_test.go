package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRange(t *testing.T) {
	jan1 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	feb1 := time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    TimeRange
		wantErr bool
	}{
		{name: "empty", input: "", want: TimeRange{}},
		{name: "dates", input: "20210101-20210201", want: TimeRange{Start: jan1, End: feb1}},
		{name: "seconds_open_end", input: "1609459200-", want: TimeRange{Start: jan1}},
		{name: "milliseconds_open_start", input: "-1612137600000", want: TimeRange{End: feb1}},
		{name: "reversed", input: "20210201-20210101", wantErr: true},
		{name: "no_separator", input: "20210101", wantErr: true},
		{name: "bad_width", input: "2021-", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimeRange(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Start.Equal(got.Start), "start")
			assert.True(t, tt.want.End.Equal(got.End), "end")
		})
	}
}

func TestTimeRange_ContainsAndSubtract(t *testing.T) {
	r := TimeRange{Start: testTime, End: testTime.Add(24 * time.Hour)}

	assert.True(t, r.Contains(testTime))
	assert.True(t, r.Contains(r.End))
	assert.False(t, r.Contains(testTime.Add(-time.Second)))

	shifted := r.SubtractStart(time.Hour)
	assert.Equal(t, testTime.Add(-time.Hour), shifted.Start)
	assert.Equal(t, testTime, r.Start)

	open := TimeRange{}
	assert.True(t, open.IsOpen())
	assert.Equal(t, open, open.SubtractStart(time.Hour))
	assert.Equal(t, "-", open.String())
}

func TestTimeRange_String(t *testing.T) {
	r := TimeRange{Start: time.Unix(1609459200, 0).UTC()}
	assert.Equal(t, "1609459200-", r.String())
}
