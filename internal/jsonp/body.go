package jsonp

import "context"

// Wrap frames in for st. The prefix chunk is emitted before the first chunk of
// the first non-empty call. Every original Last chunk is demoted to a Flush
// boundary and a suffix chunk carrying Last is appended; done reports that the
// suffix was emitted and st must not be used again.
//
// Wrap never copies body bytes: the original chunks are forwarded as they are.
func Wrap(st *State, in []Chunk) (out []Chunk, done bool) {
	if len(in) == 0 {
		return in, false
	}

	out = make([]Chunk, 0, len(in)+2)
	if !st.prefixEmitted {
		st.prefixEmitted = true
		p := make([]byte, 0, len(st.Callback)+1)
		p = append(p, st.Callback...)
		p = append(p, '(')
		out = append(out, Chunk{Data: p})
	}

	for _, c := range in {
		if c.Last {
			c.Last = false
			c.Flush = true
			done = true
		}
		out = append(out, c)
	}

	if done {
		out = append(out, Chunk{Data: []byte{')', ';'}, Last: true})
	}
	return out, done
}

// BodyFilter is the streaming stage of the JSONP filter.
type BodyFilter struct {
	next BodySink
}

// NewBodyFilter returns a body stage forwarding to next.
func NewBodyFilter(next BodySink) *BodyFilter {
	return &BodyFilter{next: next}
}

// SendBody frames chunks of responses activated by HeaderFilter and passes
// every other response through verbatim.
func (f *BodyFilter) SendBody(ctx context.Context, r *Response, chunks []Chunk) error {
	if r.Wrap == nil {
		return f.next.SendBody(ctx, r, chunks)
	}
	out, done := Wrap(r.Wrap, chunks)
	if done {
		r.Wrap = nil
	}
	return f.next.SendBody(ctx, r, out)
}
