package ledger

// Sink is the durable-write boundary. The ledger calls Append for
// every applied mutation before reporting success; an error rolls the
// mutation back, so sink contents are always a prefix of applied
// state.
type Sink interface {
	Append(rec TxRecord) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(rec TxRecord) error

func (f SinkFunc) Append(rec TxRecord) error { return f(rec) }

// FanoutSink writes each record to every sink in order, stopping at
// the first error.
func FanoutSink(sinks ...Sink) Sink {
	return SinkFunc(func(rec TxRecord) error {
		for _, s := range sinks {
			if err := s.Append(rec); err != nil {
				return err
			}
		}
		return nil
	})
}
