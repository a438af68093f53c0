package operatorchain

// OutputTag gates a ChainingOutput to the main operator (zero value) or to
// one named side output. Side outputs let a single operator emit onto
// more than one logical stream without changing its Collector signature.
type OutputTag string

// Collector is the sink a ChainingOutput forwards records into: either
// the next operator in the chain, or (at the tail) the network output
// that ships records downstream.
type Collector interface {
	Collect(tag OutputTag, record any) error
}

// CopyFunc deep-copies a record via the configured serializer. Wired in by
// whatever owns the chain (the user-function runtime, which lives outside
// this package); operatorchain only calls it.
type CopyFunc func(any) (any, error)

// ChainingOutput forwards a record to the next operator without copying —
// object-reuse mode, safe only when nothing downstream of this link
// retains a reference past the call.
type ChainingOutput struct {
	Tag  OutputTag
	Next Collector
}

// Collect emits to Next iff the record's tag matches: no tag reaches the
// main operator, a matching tag reaches the side operator gated on it.
func (c *ChainingOutput) Collect(tag OutputTag, record any) error {
	if tag != c.Tag {
		return nil
	}
	return c.Next.Collect(tag, record)
}

// CopyingChainingOutput deep-copies the record via Copy before forwarding
// — used whenever object-reuse mode is disabled, since multiple
// downstream operators might otherwise observe mutations made by others
// sharing the same object.
type CopyingChainingOutput struct {
	Tag  OutputTag
	Next Collector
	Copy CopyFunc
}

// Collect copies then forwards, short-circuiting on a tag mismatch before
// paying the copy cost.
func (c *CopyingChainingOutput) Collect(tag OutputTag, record any) error {
	if tag != c.Tag {
		return nil
	}
	copied, err := c.Copy(record)
	if err != nil {
		return err
	}
	return c.Next.Collect(tag, copied)
}

// BroadcastCollector fans a record out to every one of N outputs. To
// amortize copy cost it shallow-copies for outputs 0..N-2 and passes the
// original record, untouched, to output N-1.
type BroadcastCollector struct {
	Outputs []Collector
	Copy    func(any) any // nil means pass the same reference to every output
}

// Collect implements Collector.
func (b *BroadcastCollector) Collect(tag OutputTag, record any) error {
	n := len(b.Outputs)
	if n == 0 {
		return nil
	}
	for i := 0; i < n-1; i++ {
		out := record
		if b.Copy != nil {
			out = b.Copy(record)
		}
		if err := b.Outputs[i].Collect(tag, out); err != nil {
			return err
		}
	}
	return b.Outputs[n-1].Collect(tag, record)
}
