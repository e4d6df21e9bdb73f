//go:build !linux && !darwin

package service

type unsupportedService struct{}

// New returns a manager that reports auto-start as unavailable.
func New(Options) Service {
	return unsupportedService{}
}

func (unsupportedService) Install() error          { return ErrUnsupported }
func (unsupportedService) Uninstall() error        { return ErrUnsupported }
func (unsupportedService) IsInstalled() bool       { return false }
func (unsupportedService) Status() (string, error) { return "unsupported", nil }
