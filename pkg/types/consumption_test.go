package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastDays(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	now := time.Date(2025, time.March, 2, 15, 30, 0, 0, loc)

	r := LastDays(now, 2)
	assert.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, loc), r.Start)
	assert.Equal(t, time.Date(2025, time.March, 2, 0, 0, 0, 0, loc), r.End)
	assert.Equal(t, "28/02/2025", r.Start.Format(PortalDateLayout))
	require.NoError(t, r.Validate())
}

func TestDateRangeValidate(t *testing.T) {
	day := time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC)

	t.Run("single day", func(t *testing.T) {
		assert.NoError(t, DateRange{Start: day, End: day}.Validate())
	})

	t.Run("missing start", func(t *testing.T) {
		assert.Error(t, DateRange{End: day}.Validate())
	})

	t.Run("inverted", func(t *testing.T) {
		err := DateRange{Start: day, End: day.AddDate(0, 0, -1)}.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "before start")
	})
}

func TestCredentialsNeverEncodePassword(t *testing.T) {
	b, err := json.Marshal(Credentials{Username: "user", Password: "hunter2"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "hunter2")
}
