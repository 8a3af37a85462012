package retry

// Counter is the run-loop retry budget. It starts with a fixed allowance,
// pays one unit per retryable escalation, and earns one back per successful
// poll (capped at the starting allowance). A drained counter means the run
// has been failing faster than it recovers and the error becomes fatal.
//
// The refill on success is deliberate: a long healthy run keeps its full
// budget, so the counter bounds consecutive failures rather than total ones.
type Counter struct {
	start   int
	balance int
}

// NewCounter creates a counter with the given starting allowance.
func NewCounter(start int) *Counter {
	return &Counter{start: start, balance: start}
}

// Decrement pays for one retryable failure and reports whether budget remains.
func (c *Counter) Decrement() bool {
	if c.balance > 0 {
		c.balance--
	}
	return c.balance > 0
}

// Increment refunds one unit after a successful poll.
func (c *Counter) Increment() {
	if c.balance < c.start {
		c.balance++
	}
}

// Balance returns the remaining budget.
func (c *Counter) Balance() int {
	return c.balance
}

// Drained reports whether the budget is exhausted.
func (c *Counter) Drained() bool {
	return c.balance <= 0
}
