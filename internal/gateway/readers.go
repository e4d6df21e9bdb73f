package gateway

// Reader status values reported alongside a reader list.
const (
	ReaderStatusReady    = "ready"
	ReaderStatusNoReader = "no_reader"
	ReaderStatusError    = "error"
)

// SelectActiveReader picks the reader shown as active: the second one when
// there are at least two, the only one when there is one, none otherwise.
// It is a display hint; the reader an operation actually targets is the
// request's ReaderIndex.
func SelectActiveReader(readers []string) (int, bool) {
	switch {
	case len(readers) >= 2:
		return 1, true
	case len(readers) == 1:
		return 0, true
	}
	return -1, false
}

// readerNames pulls the reader list out of a list_readers document.
func readerNames(doc Document) []string {
	switch v := doc["readers"].(type) {
	case []string:
		return v
	case []any:
		names := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}

// annotateReaders adds active, activeIndex and status to a list_readers result.
func annotateReaders(res *Result) {
	if res.Payload == nil {
		res.Payload = Document{}
	}
	if _, ok := res.Payload["readers"]; !ok {
		res.Payload["readers"] = []string{}
	}

	if !res.Success {
		res.Payload["status"] = ReaderStatusError
		res.Payload["active"] = nil
		res.Payload["activeIndex"] = nil
		return
	}

	names := readerNames(res.Payload)
	idx, ok := SelectActiveReader(names)
	if !ok {
		res.Payload["status"] = ReaderStatusNoReader
		res.Payload["active"] = nil
		res.Payload["activeIndex"] = nil
		return
	}
	res.Payload["status"] = ReaderStatusReady
	res.Payload["active"] = names[idx]
	res.Payload["activeIndex"] = idx
}
