// Package fragment splits metadata payloads into MTU-bounded, word-aligned
// fragments.
//
// An Assembler holds two queues. The payload queue receives the message and
// is consumed by Fragment; the staging queue collects one fragment plus the
// per-fragment headers the caller prepends, and is drained by TakeFragment.
// Headers added to the staging queue do not count against the maximum
// fragment size; the caller budgets them separately.
//
//	a, _ := fragment.New(1400, 4)
//	a.AddPayload(msg)
//	a.AlignPayload()
//	n := a.NumFragments()
//	for i := 0; i < n; i++ {
//	    size := a.Fragment(0)
//	    a.AddHeader(segmentHeader(i, size))
//	    written, _ := a.TakeFragment(buf)
//	    send(buf[:written])
//	}
//	// a.PayloadRemaining() == 0 here, or the caller sized n wrong.
package fragment
