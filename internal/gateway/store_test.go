package gateway

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SimplyPrint/card-gateway/internal/driver"
)

func TestHistoryStoreNewestFirstAndCapped(t *testing.T) {
	h := NewHistoryStore()

	for i := 0; i < 75; i++ {
		h.Add(HistoryRecord{UID: fmt.Sprintf("%02X", i)})
	}

	list := h.List()
	require.Len(t, list, HistoryCapacity)
	assert.Equal(t, "4A", list[0].UID, "newest first")
	assert.Equal(t, "19", list[len(list)-1].UID, "oldest kept record")
}

func TestHistoryStoreClear(t *testing.T) {
	h := NewHistoryStore()
	h.Add(HistoryRecord{UID: "04"})
	h.Clear()

	assert.Empty(t, h.List())
	assert.Equal(t, 0, h.Len())
}

func TestHistoryStoreListIsACopy(t *testing.T) {
	h := NewHistoryStore()
	h.Add(HistoryRecord{UID: "04"})

	list := h.List()
	list[0].UID = "changed"

	assert.Equal(t, "04", h.List()[0].UID)
}

func traceOf(n int, prefix string) []driver.TraceEntry {
	out := make([]driver.TraceEntry, n)
	for i := range out {
		out[i] = driver.TraceEntry{TX: fmt.Sprintf("%s%02d", prefix, i), SW: "9000"}
	}
	return out
}

func TestTransactionLogBatchIsReversed(t *testing.T) {
	log := NewTransactionLog()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	log.AppendBatch("Earlier", traceOf(2, "E"), at)
	log.AppendBatch("Type 4 Read", traceOf(3, "R"), at)

	entries := log.Entries()
	require.Len(t, entries, 5)

	wantTX := []string{"R02", "R01", "R00", "E01", "E00"}
	for i, want := range wantTX {
		assert.Equal(t, want, entries[i].Trace.TX, "entry %d", i)
	}
	assert.Equal(t, 3, entries[0].Index)
	assert.Equal(t, 3, entries[0].Total)
	assert.Equal(t, "Type 4 Read", entries[0].Operation)
	assert.Equal(t, 1, entries[2].Index)
}

func TestTransactionLogCapped(t *testing.T) {
	log := NewTransactionLog()
	now := time.Now()

	for i := 0; i < 30; i++ {
		log.AppendBatch("APDU", traceOf(4, fmt.Sprintf("B%02d-", i)), now)
		assert.LessOrEqual(t, log.Len(), TransactionLogCapacity)
	}

	entries := log.Entries()
	require.Len(t, entries, TransactionLogCapacity)
	assert.Equal(t, "B29-03", entries[0].Trace.TX)
	assert.Equal(t, "B05-00", entries[len(entries)-1].Trace.TX)
}

func TestTransactionLogOversizedBatch(t *testing.T) {
	log := NewTransactionLog()
	log.AppendBatch("Bulk", traceOf(150, "X"), time.Now())

	entries := log.Entries()
	require.Len(t, entries, TransactionLogCapacity)
	assert.Equal(t, "X149", entries[0].Trace.TX)
	assert.Equal(t, "X50", entries[len(entries)-1].Trace.TX)
}

func TestTransactionLogEmptyBatchAndClear(t *testing.T) {
	log := NewTransactionLog()
	log.AppendBatch("List Readers", nil, time.Now())
	assert.Equal(t, 0, log.Len())

	log.AppendBatch("APDU", traceOf(2, "A"), time.Now())
	log.Clear()
	assert.Empty(t, log.Entries())
}

func TestStoresConcurrentAccess(t *testing.T) {
	h := NewHistoryStore()
	log := NewTransactionLog()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				h.Add(HistoryRecord{UID: fmt.Sprint(i, j)})
				log.AppendBatch("APDU", traceOf(3, "C"), time.Now())
				_ = h.List()
				_ = log.Entries()
				if j == 10 {
					h.Clear()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, h.Len(), HistoryCapacity)
	assert.LessOrEqual(t, log.Len(), TransactionLogCapacity)
}
