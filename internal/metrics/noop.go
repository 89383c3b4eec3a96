package metrics

import "time"

// NoopSink discards everything.
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) RunCompleted(string, string, time.Duration) {}
func (NoopSink) FetchCompleted(time.Duration, int, error)   {}
func (NoopSink) MailSent(string)                            {}
func (NoopSink) TriggersActive(int)                         {}
func (NoopSink) Reconfigured(string)                        {}
