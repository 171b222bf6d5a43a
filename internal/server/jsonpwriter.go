package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/eugener/xssgate/internal"
	"github.com/eugener/xssgate/internal/jsonp"
)

// errAborted is returned by writes to a response whose header stage failed.
var errAborted = errors.New("response aborted")

// jsonpWriter runs the JSONP filter chain over an http.ResponseWriter.
// WriteHeader feeds the header stage, each Write becomes one body chunk,
// Flush becomes an empty flush chunk and finish sends the final chunk.
//
// It is also the wire end of the chain: SendHeader and SendBody write to
// the underlying ResponseWriter.
type jsonpWriter struct {
	w   http.ResponseWriter
	ctx context.Context
	log *slog.Logger

	header *jsonp.HeaderFilter
	body   *jsonp.BodyFilter

	resp        jsonp.Response
	one         [1]jsonp.Chunk
	wroteHeader bool
	aborted     bool
	finished    bool
	status      int // status sent to the client
}

func newJSONPWriter(w http.ResponseWriter, r *http.Request, cfg *jsonp.Config, logger *slog.Logger) *jsonpWriter {
	jw := &jsonpWriter{
		w:   w,
		ctx: r.Context(),
		log: logger,
		resp: jsonp.Response{
			Method:     r.Method,
			RawQuery:   r.URL.RawQuery,
			Subrequest: gateway.IsSubrequest(r.Context()),
		},
	}
	jw.header = jsonp.NewHeaderFilter(cfg, jw, logger)
	jw.body = jsonp.NewBodyFilter(jw)
	return jw
}

func (jw *jsonpWriter) Header() http.Header {
	return jw.w.Header()
}

func (jw *jsonpWriter) WriteHeader(code int) {
	if jw.wroteHeader {
		return
	}
	if code >= 100 && code < 200 {
		jw.w.WriteHeader(code)
		return
	}
	jw.wroteHeader = true
	jw.resp.Status = code
	jw.resp.Header = jw.w.Header()

	if err := jw.header.SendHeader(jw.ctx, &jw.resp); err != nil {
		jw.abort(err)
	}
}

// abort replaces the pending response with an internal error. No original
// header beyond the request ID and no original body byte reaches the client.
func (jw *jsonpWriter) abort(err error) {
	jw.aborted = true
	jw.log.LogAttrs(jw.ctx, slog.LevelError, "jsonp: response aborted",
		slog.Int("upstream_status", jw.resp.Status),
		slog.String("error", err.Error()),
		slog.String("request_id", gateway.RequestIDFromContext(jw.ctx)),
	)
	h := jw.w.Header()
	for k := range h {
		if k != requestIDHeader {
			delete(h, k)
		}
	}
	jw.status = http.StatusInternalServerError
	writeJSON(jw.w, http.StatusInternalServerError, errorResponse("internal server error"))
}

func (jw *jsonpWriter) Write(b []byte) (int, error) {
	if !jw.wroteHeader {
		jw.WriteHeader(http.StatusOK)
	}
	if jw.aborted {
		return 0, errAborted
	}
	if len(b) == 0 {
		return 0, nil
	}
	jw.one[0] = jsonp.Chunk{Data: b}
	if err := jw.body.SendBody(jw.ctx, &jw.resp, jw.one[:]); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Flush sends an empty flush chunk so buffered bytes (including a pending
// prefix) reach the client.
func (jw *jsonpWriter) Flush() {
	if !jw.wroteHeader {
		jw.WriteHeader(http.StatusOK)
	}
	if jw.aborted {
		return
	}
	jw.one[0] = jsonp.Chunk{Flush: true}
	if err := jw.body.SendBody(jw.ctx, &jw.resp, jw.one[:]); err != nil {
		jw.log.LogAttrs(jw.ctx, slog.LevelDebug, "flush failed", slog.String("error", err.Error()))
	}
}

// finish ends the body. It must be called once the handler has returned.
func (jw *jsonpWriter) finish() error {
	if jw.finished {
		return nil
	}
	jw.finished = true
	if !jw.wroteHeader {
		jw.WriteHeader(http.StatusOK)
	}
	if jw.aborted {
		return errAborted
	}
	jw.one[0] = jsonp.Chunk{Last: true}
	return jw.body.SendBody(jw.ctx, &jw.resp, jw.one[:])
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (jw *jsonpWriter) Unwrap() http.ResponseWriter {
	return jw.w
}

// SendHeader writes the final head to the client.
func (jw *jsonpWriter) SendHeader(_ context.Context, r *jsonp.Response) error {
	jw.status = r.Status
	jw.w.WriteHeader(r.Status)
	return nil
}

// SendBody writes chunk data to the client and flushes on flush boundaries.
func (jw *jsonpWriter) SendBody(_ context.Context, _ *jsonp.Response, chunks []jsonp.Chunk) error {
	for _, c := range chunks {
		if len(c.Data) > 0 {
			if _, err := jw.w.Write(c.Data); err != nil {
				return err
			}
		}
		if c.Flush {
			if f, ok := jw.w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
	return nil
}

// decided reports whether the header stage ran for this response.
func (jw *jsonpWriter) decided() bool {
	return jw.wroteHeader
}
