package dedupe

// Option configures an InMemoryDeduper.
type Option func(*InMemoryDeduper)

// WithMaxSize bounds how many ids are remembered. maxSize <= 0 is unbounded.
func WithMaxSize(maxSize int) Option {
	return func(d *InMemoryDeduper) {
		d.maxSize = maxSize
	}
}
