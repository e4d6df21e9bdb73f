package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SimplyPrint/card-gateway/internal/driver"
)

func TestNormalizeSuccess(t *testing.T) {
	res := Normalize(driver.KindReadUID, stdout(`{"success":true,"uid":"04 A1 B2","reader":"ACR122U","sw":"90 00"}`))

	assert.True(t, res.Success)
	assert.Equal(t, FailureNone, res.Failure)
	assert.Equal(t, "04 A1 B2", res.Payload.String("uid"))
	assert.Equal(t, "ACR122U", res.Payload.String("reader"))
	assert.Empty(t, res.Trace)
}

func TestNormalizeDecodeFailure(t *testing.T) {
	tests := []struct {
		name string
		out  *driver.Output
		want string
	}{
		{
			name: "stderr wins",
			out:  &driver.Output{Stdout: []byte("Traceback"), Stderr: []byte("ModuleNotFoundError: smartcard\n"), ExitCode: 1},
			want: "ModuleNotFoundError: smartcard",
		},
		{
			name: "stdout when stderr empty",
			out:  &driver.Output{Stdout: []byte("not json")},
			want: "not json",
		},
		{
			name: "generic when both empty",
			out:  &driver.Output{},
			want: "Failed to parse response",
		},
		{
			name: "json array is not a document",
			out:  &driver.Output{Stdout: []byte(`[1,2]`)},
			want: "[1,2]",
		},
		{
			name: "trailing garbage",
			out:  &driver.Output{Stdout: []byte(`{"success":true} junk`)},
			want: `{"success":true} junk`,
		},
		{
			name: "nil output",
			out:  nil,
			want: "Failed to parse response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(driver.KindReadUID, tt.out)
			assert.False(t, res.Success)
			assert.Equal(t, FailureDecode, res.Failure)
			assert.Equal(t, tt.want, res.Message)
		})
	}
}

func TestNormalizeExitCodeDoesNotClassify(t *testing.T) {
	out := &driver.Output{Stdout: []byte(`{"success":true,"readers":[]}`), ExitCode: 1}

	res := Normalize(driver.KindListReaders, out)
	assert.True(t, res.Success)
}

func TestNormalizeMissingSuccessFlag(t *testing.T) {
	res := Normalize(driver.KindReadUID, stdout(`{"uid":"04"}`))
	assert.False(t, res.Success)
	assert.Equal(t, FailureDecode, res.Failure)

	res = Normalize(driver.KindReadUID, stdout(`{"success":"yes"}`))
	assert.Equal(t, FailureDecode, res.Failure)
}

func TestNormalizeApplicationFailureKeepsPayload(t *testing.T) {
	doc := `{"success":false,"error":"Select failed","reader":"R1","trace":[{"tx":"00 A4 04 00","rx":"","sw":"6a 82"}]}`

	res := Normalize(driver.KindType4Info, stdout(doc))

	assert.False(t, res.Success)
	assert.Equal(t, FailureApplication, res.Failure)
	assert.Equal(t, "Select failed", res.Message)
	assert.Equal(t, "R1", res.Payload.String("reader"))
	require.Len(t, res.Trace, 1)
	assert.Equal(t, driver.TraceEntry{TX: "00A40400", SW: "6A82"}, res.Trace[0])
}

func TestNormalizeApplicationMessageFallback(t *testing.T) {
	res := Normalize(driver.KindReadUID, stdout(`{"success":false,"message":"No card"}`))
	assert.Equal(t, "No card", res.Message)

	res = Normalize(driver.KindReadUID, stdout(`{"success":false}`))
	assert.Equal(t, "Operation failed", res.Message)
}

func TestNormalizeTraceOrderAndStatusWords(t *testing.T) {
	doc := `{"success":true,"trace":[
		{"tx":"00A4","rx":"","sw":"9000"},
		{"tx":"00B0","rx":"DE AD","sw":"90"},
		{"tx":"00D6","rx":"","sw":"6A 82"}]}`

	res := Normalize(driver.KindType4Read, stdout(doc))

	require.Len(t, res.Trace, 3)
	assert.Equal(t, "00A4", res.Trace[0].TX)
	assert.Equal(t, "9000", res.Trace[0].SW)
	assert.Equal(t, "", res.Trace[1].SW, "short status words are dropped")
	assert.Equal(t, "DEAD", res.Trace[1].RX)
	assert.Equal(t, "6A82", res.Trace[2].SW)
}

func TestNormalizeIsPure(t *testing.T) {
	out := stdout(`{"success":true,"uid":"04 11","trace":[{"tx":"FFCA000000","rx":"0411","sw":"9000"}]}`)

	a := Normalize(driver.KindReadUID, out)
	b := Normalize(driver.KindReadUID, out)

	assert.Equal(t, a, b)
}

func TestResultMarshalJSON(t *testing.T) {
	res := Normalize(driver.KindRawAPDU, stdout(`{"success":false,"error":"boom","extra":1}`))

	b, err := json.Marshal(res)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, false, m["success"])
	assert.Equal(t, "boom", m["error"])
	assert.Equal(t, "application", m["failure"])
	assert.Equal(t, float64(1), m["extra"])
	assert.Equal(t, []any{}, m["trace"])
}

func TestResultMarshalJSONListReadersHasNoTrace(t *testing.T) {
	b, err := json.Marshal(Failed(driver.KindListReaders, FailureSpawn, "missing"))
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"trace"`)
}

func TestIntOrDefault(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{nil, 16},
		{"", 16},
		{"32", 32},
		{"abc", 16},
		{"-1", 16},
		{float64(8), 8},
		{float64(1.5), 16},
		{json.Number("4"), 4},
		{12, 12},
		{true, 16},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IntOrDefault(tt.in, 16), "input %#v", tt.in)
	}
}
