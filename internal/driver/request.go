// Package driver defines how a card operation is handed to the external card
// driver and what comes back from it.
package driver

import (
	"fmt"
	"strconv"
)

// Kind identifies one gateway operation.
type Kind string

const (
	KindListReaders Kind = "list_readers"
	KindReadUID     Kind = "read_uid"
	KindLiteInfo    Kind = "lite_info"
	KindRawAPDU     Kind = "apdu"
	KindType4Info   Kind = "type4_info"
	KindType4Read   Kind = "type4_read"
	KindType4Write  Kind = "type4_write"
)

// Kinds lists every operation kind in a stable order.
var Kinds = []Kind{
	KindListReaders,
	KindReadUID,
	KindLiteInfo,
	KindRawAPDU,
	KindType4Info,
	KindType4Read,
	KindType4Write,
}

// ParseKind returns the Kind named by s.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// TouchesCard reports whether the operation talks to a card (and therefore to
// one specific reader) rather than just enumerating readers.
func (k Kind) TouchesCard() bool {
	return k != KindListReaders
}

// Label is the human-readable name used in transaction logs.
func (k Kind) Label() string {
	switch k {
	case KindListReaders:
		return "List Readers"
	case KindReadUID:
		return "Read UID"
	case KindLiteInfo:
		return "Lite Info"
	case KindRawAPDU:
		return "APDU"
	case KindType4Info:
		return "Type 4 Info"
	case KindType4Read:
		return "Type 4 Read"
	case KindType4Write:
		return "Type 4 Write"
	}
	return string(k)
}

const (
	// DefaultReaderIndex is the reader the driver targets when the caller does
	// not pick one. The driver falls back to index 0 when it is out of range.
	DefaultReaderIndex = 1
	// AutoReader asks the dispatcher to resolve the operational reader itself.
	AutoReader = -1

	DefaultAID         = "F00102030405"
	DefaultLiteVersion = "v2"
	DefaultReadOffset  = 0
	DefaultReadLength  = 16
)

// Request is a single card operation. Build it with one of the constructors
// below; it is passed around by value and never modified in place.
type Request struct {
	Kind    Kind   `json:"kind"`
	Reader  int    `json:"reader"`
	Version string `json:"version,omitempty"`
	APDU    string `json:"apdu,omitempty"`
	AID     string `json:"aid,omitempty"`
	Offset  int    `json:"offset,omitempty"`
	Length  int    `json:"length,omitempty"`
	Data    string `json:"data,omitempty"`
}

func ListReaders() Request {
	return Request{Kind: KindListReaders, Reader: AutoReader}
}

func ReadUID(reader int) Request {
	return Request{Kind: KindReadUID, Reader: reader}
}

func LiteInfo(reader int, version string) Request {
	return Request{Kind: KindLiteInfo, Reader: reader, Version: version}
}

func RawAPDU(reader int, apduHex string) Request {
	return Request{Kind: KindRawAPDU, Reader: reader, APDU: apduHex}
}

func Type4Info(reader int, aid string) Request {
	return Request{Kind: KindType4Info, Reader: reader, AID: aid}
}

func Type4Read(reader int, aid string, offset, length int) Request {
	return Request{Kind: KindType4Read, Reader: reader, AID: aid, Offset: offset, Length: length}
}

func Type4Write(reader int, aid string, offset int, dataHex string) Request {
	return Request{Kind: KindType4Write, Reader: reader, AID: aid, Offset: offset, Data: dataHex}
}

// Args encodes the request as the positional arguments the driver expects.
// The first argument selects the operation; the reader index always follows
// for card-touching operations.
func (r Request) Args() ([]string, error) {
	reader := strconv.Itoa(r.Reader)
	switch r.Kind {
	case KindListReaders:
		return []string{"list"}, nil
	case KindReadUID:
		return []string{"read", reader}, nil
	case KindLiteInfo:
		return []string{"lite", reader, r.Version}, nil
	case KindRawAPDU:
		return []string{"apdu", reader, r.APDU}, nil
	case KindType4Info:
		return []string{"type4", reader, r.AID}, nil
	case KindType4Read:
		return []string{"type4_read", reader, r.AID, strconv.Itoa(r.Offset), strconv.Itoa(r.Length)}, nil
	case KindType4Write:
		return []string{"type4_write", reader, r.AID, strconv.Itoa(r.Offset), r.Data}, nil
	}
	return nil, fmt.Errorf("unknown operation kind %q", r.Kind)
}
