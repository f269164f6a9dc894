package pipeline

import (
	"errors"

	"soarbook/pkg/models"
)

// SummaryWriter writes run summaries.
type SummaryWriter interface {
	WriteSummaries(summaries []*models.Summary) error
	Close() error
}

// MultiWriter fans a batch out to every sink.
type MultiWriter []SummaryWriter

// WriteSummaries writes to every sink and joins their errors. A failing sink
// does not stop the others.
func (m MultiWriter) WriteSummaries(summaries []*models.Summary) error {
	var errs []error
	for _, w := range m {
		if err := w.WriteSummaries(summaries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m MultiWriter) Close() error {
	var errs []error
	for _, w := range m {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
