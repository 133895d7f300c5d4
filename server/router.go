package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/becomeliminal/atlas/core"
)

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// router maps method names to handlers.
type router struct {
	handlers map[string]handlerFunc
}

func newRouter(ops Operations) *router {
	r := &router{handlers: map[string]handlerFunc{}}
	r.register(MethodIngest, func(ctx context.Context, p json.RawMessage) (any, error) {
		var in core.IngestInput
		if err := decodeParams(p, &in); err != nil {
			return nil, err
		}
		return ops.Ingest(ctx, in)
	})
	r.register(MethodSearch, func(ctx context.Context, p json.RawMessage) (any, error) {
		var in core.SearchInput
		if err := decodeParams(p, &in); err != nil {
			return nil, err
		}
		return ops.Search(ctx, in)
	})
	r.register(MethodConsolidate, func(ctx context.Context, p json.RawMessage) (any, error) {
		var in core.ConsolidateInput
		if err := decodeParams(p, &in); err != nil {
			return nil, err
		}
		return ops.Consolidate(ctx, in)
	})
	r.register(MethodHealth, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return ops.Health(ctx)
	})
	r.register(MethodStatus, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return ops.Status(ctx)
	})
	return r
}

func (r *router) register(method string, h handlerFunc) {
	r.handlers[method] = h
}

func (r *router) handle(ctx context.Context, req *Request) *Response {
	h, ok := r.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, ErrUnknownMethod, "unknown method: "+req.Method)
	}

	start := time.Now()
	payload, err := h(ctx, req.Params)
	if err != nil {
		if perr, ok := err.(*paramsError); ok {
			return errorResponse(req.ID, ErrInvalidRequest, perr.Error())
		}
		log.Printf("[SERVER] %s %s failed: %v", req.Method, req.ID, err)
		return errorResponse(req.ID, ErrInternal, err.Error())
	}
	log.Printf("[SERVER] %s %s completed in %s", req.Method, req.ID, time.Since(start).Round(time.Millisecond))
	return okResponse(req.ID, payload)
}

type paramsError struct {
	err error
}

func (e *paramsError) Error() string {
	return fmt.Sprintf("invalid params: %v", e.err)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &paramsError{err: err}
	}
	return nil
}
