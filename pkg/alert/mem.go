package alert

import "context"

// Fake is an in-memory Alerter for tests.
type Fake struct {
	Alerts []string
}

func (f *Fake) Alert(_ context.Context, level, message string) error {
	f.Alerts = append(f.Alerts, level+": "+message)
	return nil
}

var _ Alerter = (*Fake)(nil)
