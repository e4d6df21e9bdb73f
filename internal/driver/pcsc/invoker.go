package pcsc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ebfe/scard"

	"github.com/SimplyPrint/card-gateway/internal/driver"
)

// Invoker answers driver requests over PC/SC. It is a drop-in replacement for
// driver.ProcessInvoker when no external driver is installed.
type Invoker struct {
	Factory ContextFactory
	Timeout time.Duration

	slotOnce sync.Once
	slot     chan struct{}
}

// NewInvoker returns an Invoker backed by the system PC/SC service. A timeout
// of zero means driver.DefaultTimeout.
func NewInvoker(timeout time.Duration) *Invoker {
	return &Invoker{Factory: DefaultContextFactory{}, Timeout: timeout}
}

// document is the driver's JSON reply, assembled field by field.
type document map[string]any

func failure(msg string) document {
	return document{"success": false, "error": msg}
}

// cardSlot is held for as long as card work runs, including work abandoned by
// a caller that timed out.
func (inv *Invoker) cardSlot() chan struct{} {
	inv.slotOnce.Do(func() {
		inv.slot = make(chan struct{}, 1)
	})
	return inv.slot
}

// Invoke runs the request against the card. PC/SC calls cannot be interrupted,
// so on timeout or cancellation the call returns immediately and the card work
// finishes in the background. The next Invoke waits for it.
func (inv *Invoker) Invoke(ctx context.Context, req driver.Request) (*driver.Output, error) {
	if _, err := req.Args(); err != nil {
		return nil, err
	}

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = driver.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return nil, ctxError(err, timeout)
	}

	start := time.Now()
	slot := inv.cardSlot()
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return &driver.Output{ExitCode: -1, Duration: time.Since(start)}, ctxError(ctx.Err(), timeout)
	}

	done := make(chan document, 1)
	go func() {
		defer func() { <-slot }()
		defer func() {
			if r := recover(); r != nil {
				done <- failure(fmt.Sprintf("pcsc driver panic: %v", r))
			}
		}()
		done <- inv.run(req)
	}()

	select {
	case doc := <-done:
		stdout, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode driver document: %w", err)
		}
		return &driver.Output{Stdout: stdout, Duration: time.Since(start)}, nil
	case <-ctx.Done():
		return &driver.Output{ExitCode: -1, Duration: time.Since(start)}, ctxError(ctx.Err(), timeout)
	}
}

func ctxError(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", driver.ErrTimeout, timeout)
	}
	return driver.ErrCanceled
}

func (inv *Invoker) run(req driver.Request) document {
	factory := inv.Factory
	if factory == nil {
		factory = DefaultContextFactory{}
	}

	sc, err := factory.EstablishContext()
	if err != nil {
		doc := failure(fmt.Sprintf("failed to establish context: %v", err))
		if req.Kind == driver.KindListReaders {
			doc["readers"] = []string{}
		}
		return doc
	}
	defer sc.Release()

	readers, err := sc.ListReaders()
	if err != nil && !errors.Is(err, scard.ErrNoReadersAvailable) {
		doc := failure(err.Error())
		if req.Kind == driver.KindListReaders {
			doc["readers"] = []string{}
		}
		return doc
	}
	if readers == nil {
		readers = []string{}
	}

	if req.Kind == driver.KindListReaders {
		return document{"success": true, "readers": readers, "count": len(readers)}
	}
	if req.Kind == driver.KindLiteInfo {
		return failure("lite info is not supported by the native PC/SC driver")
	}

	if len(readers) == 0 {
		return failure("No NFC readers found")
	}
	idx := req.Reader
	if idx < 0 || idx >= len(readers) {
		idx = 0
	}
	readerName := readers[idx]

	card, err := sc.Connect(readerName, uint32(scard.ShareShared), uint32(scard.ProtocolAny))
	if err != nil {
		doc := failure("No card present - please place card on reader")
		if !errors.Is(err, scard.ErrNoSmartcard) && !errors.Is(err, scard.ErrRemovedCard) {
			doc = failure(fmt.Sprintf("Card connection error: %v", err))
		}
		doc["reader"] = readerName
		return doc
	}
	defer card.Disconnect(uint32(scard.LeaveCard))

	s := &session{card: card, trace: []driver.TraceEntry{}}
	var doc document
	switch req.Kind {
	case driver.KindReadUID:
		doc = s.readUID()
	case driver.KindRawAPDU:
		doc = s.rawAPDU(req.APDU)
	case driver.KindType4Info:
		doc = s.type4Info(req.AID)
	case driver.KindType4Read:
		doc = s.type4Read(req.AID, req.Offset, req.Length)
	case driver.KindType4Write:
		doc = s.type4Write(req.AID, req.Offset, req.Data)
	}
	doc["reader"] = readerName
	doc["trace"] = s.trace
	return doc
}

// session is one connected card plus the APDU trace recorded against it.
type session struct {
	card  SmartCard
	trace []driver.TraceEntry
}

// transmit sends cmd and splits the reply into data and status word.
func (s *session) transmit(cmd []byte) (data []byte, sw [2]byte, err error) {
	rsp, err := s.card.Transmit(cmd)
	entry := driver.TraceEntry{TX: spaced(cmd)}
	if err != nil {
		s.trace = append(s.trace, entry)
		return nil, sw, fmt.Errorf("failed to transmit: %w", err)
	}
	if len(rsp) < 2 {
		entry.RX = spaced(rsp)
		s.trace = append(s.trace, entry)
		return nil, sw, fmt.Errorf("invalid response length: %d", len(rsp))
	}
	data = rsp[:len(rsp)-2]
	sw = [2]byte{rsp[len(rsp)-2], rsp[len(rsp)-1]}
	entry.RX = spaced(data)
	entry.SW = spaced(sw[:])
	s.trace = append(s.trace, entry)
	return data, sw, nil
}

func (s *session) readUID() document {
	data, sw, err := s.transmit([]byte{0xFF, 0xCA, 0x00, 0x00, 0x00})
	if err != nil {
		return failure(err.Error())
	}
	if sw[0] != 0x90 {
		return failure(fmt.Sprintf("Read failed with status: %02X %02X", sw[0], sw[1]))
	}

	uidBytes := make([]int, len(data))
	for i, b := range data {
		uidBytes[i] = int(b)
	}
	return document{
		"success":   true,
		"uid":       spaced(data),
		"uid_hex":   strings.ToUpper(hex.EncodeToString(data)),
		"uid_bytes": uidBytes,
		"sw":        spaced(sw[:]),
	}
}

func (s *session) rawAPDU(apduHex string) document {
	cmd, err := hex.DecodeString(driver.NormalizeHex(apduHex))
	if err != nil || len(cmd) == 0 {
		return failure("invalid APDU hex string")
	}
	data, sw, err := s.transmit(cmd)
	if err != nil {
		return failure(err.Error())
	}
	return document{
		"success": true,
		"tx":      spaced(cmd),
		"rx":      spaced(data),
		"sw":      spaced(sw[:]),
	}
}

// selectApplication issues SELECT by AID and reports the status word.
func (s *session) selectApplication(aid string) (document, bool) {
	aidBytes, err := hex.DecodeString(driver.NormalizeHex(aid))
	if err != nil || len(aidBytes) == 0 || len(aidBytes) > 16 {
		return failure("invalid AID"), false
	}

	cmd := append([]byte{0x00, 0xA4, 0x04, 0x00, byte(len(aidBytes))}, aidBytes...)
	cmd = append(cmd, 0x00)
	_, sw, err := s.transmit(cmd)
	if err != nil {
		return failure(err.Error()), false
	}

	used := strings.ToUpper(hex.EncodeToString(aidBytes))
	doc := document{
		"aid_requested": aid,
		"aid_used":      used,
		"selected":      sw == [2]byte{0x90, 0x00},
		"sw":            spaced(sw[:]),
	}
	if sw != [2]byte{0x90, 0x00} {
		doc["success"] = false
		doc["error"] = fmt.Sprintf("Application select failed with status: %02X %02X", sw[0], sw[1])
		return doc, false
	}
	return doc, true
}

func (s *session) type4Info(aid string) document {
	var atr []byte
	if st, err := s.card.Status(); err == nil {
		atr = st.Atr
	}

	doc, selected := s.selectApplication(aid)
	if selected {
		doc["success"] = true
	}
	if atr != nil {
		doc["atr"] = spaced(atr)
	}
	return doc
}

func (s *session) type4Read(aid string, offset, length int) document {
	if offset < 0 || offset > 0x7FFF {
		return failure(fmt.Sprintf("offset out of range: %d", offset))
	}
	if length < 1 || length > 0xFF {
		return failure(fmt.Sprintf("length out of range: %d", length))
	}

	doc, ok := s.selectApplication(aid)
	if !ok {
		return doc
	}

	data, sw, err := s.transmit([]byte{0x00, 0xB0, byte(offset >> 8), byte(offset), byte(length)})
	if err != nil {
		return failure(err.Error())
	}
	doc["offset"] = offset
	doc["length"] = len(data)
	doc["data"] = strings.ToUpper(hex.EncodeToString(data))
	doc["sw"] = spaced(sw[:])
	doc["success"] = true
	return doc
}

func (s *session) type4Write(aid string, offset int, dataHex string) document {
	data, err := hex.DecodeString(driver.NormalizeHex(dataHex))
	if err != nil || len(data) == 0 {
		return failure("invalid data hex string")
	}
	if offset < 0 || offset > 0x7FFF {
		return failure(fmt.Sprintf("offset out of range: %d", offset))
	}
	if len(data) > 0xFF {
		return failure(fmt.Sprintf("data too long: %d bytes", len(data)))
	}

	doc, ok := s.selectApplication(aid)
	if !ok {
		return doc
	}

	cmd := append([]byte{0x00, 0xD6, byte(offset >> 8), byte(offset), byte(len(data))}, data...)
	_, sw, err := s.transmit(cmd)
	if err != nil {
		return failure(err.Error())
	}
	doc["offset"] = offset
	doc["written"] = len(data)
	doc["sw"] = spaced(sw[:])
	doc["success"] = true
	return doc
}

// spaced renders bytes the way the external driver does: "04 A1 B2".
func spaced(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = fmt.Sprintf("%02X", c)
	}
	return strings.Join(parts, " ")
}
