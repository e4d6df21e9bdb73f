// Package pcsc is an in-process card driver. It talks PC/SC directly instead
// of spawning the external driver, and answers with the same JSON documents.
package pcsc

import "github.com/ebfe/scard"

// SmartCardContext represents a PC/SC context for listing readers
type SmartCardContext interface {
	ListReaders() ([]string, error)
	Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error)
	Release() error
}

// SmartCard represents a connected smart card for transmitting commands
type SmartCard interface {
	Transmit(cmd []byte) ([]byte, error)
	Status() (SmartCardStatus, error)
	Disconnect(disposition uint32) error
}

// SmartCardStatus represents the status of a smart card
type SmartCardStatus struct {
	Reader         string
	State          uint32
	ActiveProtocol uint32
	Atr            []byte
}

// ContextFactory creates SmartCardContext instances so tests can swap in mocks.
type ContextFactory interface {
	EstablishContext() (SmartCardContext, error)
}

// DefaultContextFactory is the production factory that uses real PC/SC
type DefaultContextFactory struct{}

func (DefaultContextFactory) EstablishContext() (SmartCardContext, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, err
	}
	return &scardContext{ctx: ctx}, nil
}

type scardContext struct {
	ctx *scard.Context
}

func (c *scardContext) ListReaders() ([]string, error) {
	return c.ctx.ListReaders()
}

func (c *scardContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	card, err := c.ctx.Connect(reader, scard.ShareMode(shareMode), scard.Protocol(protocol))
	if err != nil {
		return nil, err
	}
	return &scardCard{card: card}, nil
}

func (c *scardContext) Release() error {
	return c.ctx.Release()
}

type scardCard struct {
	card *scard.Card
}

func (c *scardCard) Transmit(cmd []byte) ([]byte, error) {
	return c.card.Transmit(cmd)
}

func (c *scardCard) Status() (SmartCardStatus, error) {
	st, err := c.card.Status()
	if err != nil {
		return SmartCardStatus{}, err
	}
	return SmartCardStatus{
		Reader:         st.Reader,
		State:          uint32(st.State),
		ActiveProtocol: uint32(st.ActiveProtocol),
		Atr:            st.Atr,
	}, nil
}

func (c *scardCard) Disconnect(disposition uint32) error {
	return c.card.Disconnect(scard.Disposition(disposition))
}
