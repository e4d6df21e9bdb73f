package pcsc

import (
	"encoding/hex"
	"errors"
	"sync"
)

// MockSmartCardContext implements SmartCardContext for testing
type MockSmartCardContext struct {
	readers     []string
	cards       map[string]*MockSmartCard
	shouldError bool
	errorMsg    string
	released    bool
}

// MockSmartCard implements SmartCard for testing
type MockSmartCard struct {
	mu           sync.Mutex
	atr          []byte
	uid          []byte
	responses    map[string][]byte // command hex -> response
	sent         []string
	shouldError  bool
	errorMsg     string
	disconnected bool
	block        chan struct{}
}

type mockFactory struct {
	ctx *MockSmartCardContext
	err error
}

func (f mockFactory) EstablishContext() (SmartCardContext, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ctx, nil
}

// NewMockContext creates a mock context with two readers and no cards
func NewMockContext() *MockSmartCardContext {
	return &MockSmartCardContext{
		readers: []string{
			"ACS ACR1252 Dual Reader SAM",
			"ACS ACR1252 Dual Reader PICC",
		},
		cards: make(map[string]*MockSmartCard),
	}
}

// WithReaders sets the readers for the mock context
func (m *MockSmartCardContext) WithReaders(readers []string) *MockSmartCardContext {
	m.readers = readers
	return m
}

// WithCard adds a mock card to a specific reader
func (m *MockSmartCardContext) WithCard(readerName string, card *MockSmartCard) *MockSmartCardContext {
	m.cards[readerName] = card
	return m
}

// WithError makes the context return errors
func (m *MockSmartCardContext) WithError(msg string) *MockSmartCardContext {
	m.shouldError = true
	m.errorMsg = msg
	return m
}

func (m *MockSmartCardContext) ListReaders() ([]string, error) {
	if m.shouldError {
		return nil, errors.New(m.errorMsg)
	}
	return m.readers, nil
}

func (m *MockSmartCardContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	card, ok := m.cards[reader]
	if !ok {
		return nil, errors.New("no card present")
	}
	return card, nil
}

func (m *MockSmartCardContext) Release() error {
	m.released = true
	return nil
}

// NewMockCard creates a Type 4 tag that answers SELECT for aid with 9000
func NewMockCard(uidHex, aid string) *MockSmartCard {
	card := &MockSmartCard{responses: make(map[string][]byte)}
	card.atr, _ = hex.DecodeString("3b8f8001804f0ca0000003060300030000000068")
	card.uid, _ = hex.DecodeString(uidHex)

	card.responses["ffca000000"] = append(append([]byte{}, card.uid...), 0x90, 0x00)

	aidBytes, _ := hex.DecodeString(aid)
	sel := append([]byte{0x00, 0xA4, 0x04, 0x00, byte(len(aidBytes))}, aidBytes...)
	card.responses[hex.EncodeToString(append(sel, 0x00))] = []byte{0x90, 0x00}
	return card
}

// WithResponse sets the reply for an exact command
func (m *MockSmartCard) WithResponse(cmdHex string, rsp []byte) *MockSmartCard {
	m.responses[cmdHex] = rsp
	return m
}

// WithError makes the card return errors
func (m *MockSmartCard) WithError(msg string) *MockSmartCard {
	m.shouldError = true
	m.errorMsg = msg
	return m
}

// WithBlock makes Transmit wait until ch is closed
func (m *MockSmartCard) WithBlock(ch chan struct{}) *MockSmartCard {
	m.block = ch
	return m
}

func (m *MockSmartCard) Transmit(cmd []byte) ([]byte, error) {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldError {
		return nil, errors.New(m.errorMsg)
	}
	if m.disconnected {
		return nil, errors.New("card disconnected")
	}

	cmdHex := hex.EncodeToString(cmd)
	m.sent = append(m.sent, cmdHex)

	if resp, ok := m.responses[cmdHex]; ok {
		return resp, nil
	}

	// SELECT for an unknown application
	if len(cmd) >= 4 && cmd[0] == 0x00 && cmd[1] == 0xA4 {
		return []byte{0x6A, 0x82}, nil
	}

	// READ BINARY: return Le zero bytes
	if len(cmd) == 5 && cmd[0] == 0x00 && cmd[1] == 0xB0 {
		return append(make([]byte, int(cmd[4])), 0x90, 0x00), nil
	}

	// UPDATE BINARY always succeeds
	if len(cmd) >= 5 && cmd[0] == 0x00 && cmd[1] == 0xD6 {
		return []byte{0x90, 0x00}, nil
	}

	// Default: command not supported
	return []byte{0x6D, 0x00}, nil
}

func (m *MockSmartCard) Status() (SmartCardStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldError {
		return SmartCardStatus{}, errors.New(m.errorMsg)
	}

	return SmartCardStatus{
		Reader:         "Mock Reader",
		ActiveProtocol: 1,
		Atr:            m.atr,
	}, nil
}

func (m *MockSmartCard) Disconnect(disposition uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	return nil
}

// Sent returns every command hex the card received, in order
func (m *MockSmartCard) Sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}
