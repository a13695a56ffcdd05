package benchmark

// RestartCounter counts trials started since the process began. It is never
// reset between sites, so periodic restarts follow the global trial ordinal.
type RestartCounter struct {
	count int
}

// Next records the start of a trial and returns its ordinal, starting at 1.
func (c *RestartCounter) Next() int {
	c.count++
	return c.count
}

// Count returns the number of trials started.
func (c *RestartCounter) Count() int {
	return c.count
}

// Due reports whether the current trial is a positive multiple of interval.
// A non-positive interval is never due.
func (c *RestartCounter) Due(interval int) bool {
	return interval > 0 && c.count > 0 && c.count%interval == 0
}
