package metrics

// MultiSink fans out records to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordPass forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordPass(res PassResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordPass(res); err != nil {
			return err
		}
	}
	return nil
}

// RecordReservation forwards reservation changes when supported by the sink.
func (m *MultiSink) RecordReservation(ev ReservationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(ReservationRecorder); ok {
			if err := rec.RecordReservation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordLockAttempt forwards lock attempts when supported by the sink.
func (m *MultiSink) RecordLockAttempt(ev LockAttempt) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(LockRecorder); ok {
			if err := rec.RecordLockAttempt(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
