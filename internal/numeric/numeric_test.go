package numeric

import (
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestDecimalEquivalentRepresentations(t *testing.T) {
	want := decimal.RequireFromString("0.00000009")
	for _, raw := range []string{`"9e-8"`, `9e-8`, `"0.00000009"`, `0.00000009`, `"9E-8"`} {
		var d Decimal
		require.NoError(t, json.Unmarshal([]byte(raw), &d), "input %s", raw)
		require.True(t, d.Equal(want), "input %s decoded to %s", raw, d.String())
	}
}

func TestDecimalEmptyAndNull(t *testing.T) {
	for _, raw := range []string{`""`, `null`} {
		var d Decimal
		require.NoError(t, json.Unmarshal([]byte(raw), &d))
		require.True(t, d.IsZero())
	}
}

func TestDecimalRejectsGarbage(t *testing.T) {
	var d Decimal
	require.Error(t, json.Unmarshal([]byte(`"not-a-number"`), &d))
}

func TestDecimalMarshalPlainNotation(t *testing.T) {
	d := NewDecimal(decimal.RequireFromString("0.00000009"))
	out, err := json.Marshal(d)
	require.NoError(t, err)
	require.Equal(t, `"0.00000009"`, string(out))
}

func TestBoolCoercions(t *testing.T) {
	truthy := []string{`"true"`, `"1"`, `"yes"`, `"y"`, `"TRUE"`, `true`, `1`}
	for _, raw := range truthy {
		var b Bool
		require.NoError(t, json.Unmarshal([]byte(raw), &b), "input %s", raw)
		require.True(t, bool(b), "input %s", raw)
	}
	falsy := []string{`"false"`, `"0"`, `"no"`, `"n"`, `false`, `0`}
	for _, raw := range falsy {
		var b Bool
		require.NoError(t, json.Unmarshal([]byte(raw), &b), "input %s", raw)
		require.False(t, bool(b), "input %s", raw)
	}
	var b Bool
	require.Error(t, json.Unmarshal([]byte(`"maybe"`), &b))
}

func TestTimeMSStringAndNumber(t *testing.T) {
	want := time.UnixMilli(1585180700065).UTC()
	for _, raw := range []string{`1585180700065`, `"1585180700065"`} {
		var ts TimeMS
		require.NoError(t, json.Unmarshal([]byte(raw), &ts), "input %s", raw)
		require.Equal(t, want, ts.Time)
	}
}

func TestTimeSecFractionalMillisecondResolution(t *testing.T) {
	want := time.Date(2020, 3, 25, 23, 58, 20, 65*int(time.Millisecond), time.UTC)
	for _, raw := range []string{`1585180700.0647`, `1585180700.065`, `"1585180700.0647"`} {
		var ts TimeSec
		require.NoError(t, json.Unmarshal([]byte(raw), &ts), "input %s", raw)
		require.Equal(t, want, ts.Time, "input %s", raw)
	}
}

func TestTimeSecWholeSeconds(t *testing.T) {
	var ts TimeSec
	require.NoError(t, json.Unmarshal([]byte(`1585180700`), &ts))
	require.Equal(t, time.Date(2020, 3, 25, 23, 58, 20, 0, time.UTC), ts.Time)
}
