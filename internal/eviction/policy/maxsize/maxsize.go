package maxsize

// Policy rejects dumps larger than MaxBytes.
type Policy struct {
	MaxBytes int64
}

func (p *Policy) Name() string { return "max-dump-size" }

func (p *Policy) Shortfall(size int64) (int64, error) {
	if p.MaxBytes > 0 && size > p.MaxBytes {
		return size - p.MaxBytes, nil
	}
	return 0, nil
}
