package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SimplyPrint/card-gateway/internal/driver"
)

func TestSelectActiveReader(t *testing.T) {
	tests := []struct {
		name    string
		readers []string
		idx     int
		ok      bool
	}{
		{"none", nil, -1, false},
		{"one", []string{"A"}, 0, true},
		{"two", []string{"A", "B"}, 1, true},
		{"three", []string{"A", "B", "C"}, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, ok := SelectActiveReader(tt.readers)
			assert.Equal(t, tt.idx, idx)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestAnnotateReaders(t *testing.T) {
	tests := []struct {
		name       string
		stdout     string
		wantStatus string
		wantActive any
		wantIndex  any
	}{
		{
			name:       "two readers",
			stdout:     `{"success":true,"readers":["SAM","PICC"],"count":2}`,
			wantStatus: ReaderStatusReady,
			wantActive: "PICC",
			wantIndex:  1,
		},
		{
			name:       "one reader",
			stdout:     `{"success":true,"readers":["PICC"],"count":1}`,
			wantStatus: ReaderStatusReady,
			wantActive: "PICC",
			wantIndex:  0,
		},
		{
			name:       "no readers",
			stdout:     `{"success":true,"readers":[],"count":0}`,
			wantStatus: ReaderStatusNoReader,
		},
		{
			name:       "driver failure",
			stdout:     `{"success":false,"error":"pcscd not running","readers":[]}`,
			wantStatus: ReaderStatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(driver.KindListReaders, stdout(tt.stdout))
			annotateReaders(res)

			assert.Equal(t, tt.wantStatus, res.Payload["status"])
			assert.Equal(t, tt.wantActive, res.Payload["active"])
			assert.Equal(t, tt.wantIndex, res.Payload["activeIndex"])
		})
	}
}

func TestAnnotateReadersAddsEmptyListOnDecodeFailure(t *testing.T) {
	res := Normalize(driver.KindListReaders, stdout("garbage"))
	annotateReaders(res)

	assert.Equal(t, []string{}, res.Payload["readers"])
	assert.Equal(t, ReaderStatusError, res.Payload["status"])
}
