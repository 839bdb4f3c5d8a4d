package signaling

import "sync/atomic"

// once runs a side effect at most once no matter how many trigger paths
// race to it. The flag is set before fn runs, so fn may re-enter Do.
type once struct {
	done atomic.Bool
}

func (o *once) Do(fn func()) bool {
	if !o.done.CompareAndSwap(false, true) {
		return false
	}
	fn()
	return true
}

func (o *once) Done() bool {
	return o.done.Load()
}
