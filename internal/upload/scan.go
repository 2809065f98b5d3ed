package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dutchcoders/go-clamd"
)

// ErrInfected is returned when the scanner flags an upload.
var ErrInfected = errors.New("malicious file detected")

// Scanner inspects upload bytes before they are parsed.
type Scanner interface {
	Scan(ctx context.Context, data []byte) error
}

// NopScanner accepts everything.
type NopScanner struct{}

func (NopScanner) Scan(context.Context, []byte) error { return nil }

// ClamdScanner streams uploads to a clamd daemon.
type ClamdScanner struct {
	client *clamd.Clamd
}

// NewClamdScanner returns a scanner for addr, e.g. tcp://127.0.0.1:3310.
func NewClamdScanner(addr string) *ClamdScanner {
	return &ClamdScanner{client: clamd.NewClamd(addr)}
}

// Scan returns ErrInfected when clamd reports anything but OK.
func (s *ClamdScanner) Scan(ctx context.Context, data []byte) error {
	abort := make(chan bool)
	defer close(abort)

	results, err := s.client.ScanStream(bytes.NewReader(data), abort)
	if err != nil {
		return fmt.Errorf("scan upload: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case result, ok := <-results:
			if !ok {
				return nil
			}
			switch result.Status {
			case clamd.RES_OK:
			case clamd.RES_FOUND:
				return fmt.Errorf("%w: %s", ErrInfected, strings.TrimSpace(result.Description))
			default:
				return fmt.Errorf("scan upload: clamd status %s: %s", result.Status, strings.TrimSpace(result.Raw))
			}
		}
	}
}
