package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/kestrel/vm"
	"github.com/chazu/kestrel/vm/snapshot"
)

// Procedure paths of the heap service.
const (
	HeapServiceName         = "kestrel.v1.HeapService"
	StatsProcedure          = "/" + HeapServiceName + "/Stats"
	CollectGarbageProcedure = "/" + HeapServiceName + "/CollectGarbage"
	SnapshotProcedure       = "/" + HeapServiceName + "/Snapshot"
)

// StatsRequest asks for a heap summary.
type StatsRequest struct{}

// StatsResponse is a point-in-time view of the heap and inline caches.
type StatsResponse struct {
	Heap   vm.HeapStats       `cbor:"heap"`
	IC     vm.ICStatsSnapshot `cbor:"ic"`
	LastGC *GCSummary         `cbor:"last_gc,omitempty"`
}

// GCSummary describes one finished collection.
type GCSummary struct {
	GCType         string `cbor:"gc_type"`
	DurationMicros int64  `cbor:"duration_us"`
	HeapSize       int    `cbor:"heap_size"`
	LiveBytes      int    `cbor:"live_bytes"`
	Promoted       int    `cbor:"promoted"`
}

// CollectGarbageRequest forces a collection. An empty GCType means a full
// compacting collection.
type CollectGarbageRequest struct {
	GCType string `cbor:"gc_type"`
}

// CollectGarbageResponse reports the collection that ran.
type CollectGarbageResponse struct {
	GC    GCSummary `cbor:"gc"`
	Count int       `cbor:"count"`
}

// SnapshotRequest asks for the snapshot document of the registered roots.
type SnapshotRequest struct{}

// SnapshotResponse carries an encoded snapshot document.
type SnapshotResponse struct {
	Data    []byte `cbor:"data"`
	Objects int    `cbor:"objects"`
	Atoms   int    `cbor:"atoms"`
}

func summarize(e *vm.HeapEvent) *GCSummary {
	if e == nil {
		return nil
	}
	return &GCSummary{
		GCType:         e.GCType.String(),
		DurationMicros: e.Duration.Microseconds(),
		HeapSize:       e.HeapSize,
		LiveBytes:      e.LiveBytes,
		Promoted:       e.Promoted,
	}
}

// HeapService implements the heap inspection procedures.
type HeapService struct {
	worker *HeapWorker
	roots  func(*vm.VM) []vm.Value
}

// NewHeapService creates a HeapService. roots supplies the values written
// by Snapshot; it runs on the mutator goroutine and may be nil.
func NewHeapService(worker *HeapWorker, roots func(*vm.VM) []vm.Value) *HeapService {
	return &HeapService{worker: worker, roots: roots}
}

// Stats returns heap and inline cache counters.
func (s *HeapService) Stats(
	ctx context.Context,
	req *connect.Request[StatsRequest],
) (*connect.Response[StatsResponse], error) {
	result, err := s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		return &StatsResponse{
			Heap:   v.Heap().Stats(),
			IC:     v.ICStats(),
			LastGC: summarize(v.Heap().LastGC()),
		}, nil
	})
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(result.(*StatsResponse)), nil
}

// CollectGarbage runs a collection of the requested type.
func (s *HeapService) CollectGarbage(
	ctx context.Context,
	req *connect.Request[CollectGarbageRequest],
) (*connect.Response[CollectGarbageResponse], error) {
	gcType := vm.CompressFullGC
	if req.Msg.GCType != "" {
		t, err := vm.ParseTriggerGCType(req.Msg.GCType)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		gcType = t
	}

	result, err := s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		h := v.Heap()
		h.CollectGarbage(gcType)
		resp := &CollectGarbageResponse{Count: h.GCCount(gcType)}
		if last := summarize(h.LastGC()); last != nil {
			resp.GC = *last
		}
		return resp, nil
	})
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(result.(*CollectGarbageResponse)), nil
}

// Snapshot copies the registered roots into the snapshot space and returns
// the encoded document.
func (s *HeapService) Snapshot(
	ctx context.Context,
	req *connect.Request[SnapshotRequest],
) (*connect.Response[SnapshotResponse], error) {
	result, err := s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		var roots []vm.Value
		if s.roots != nil {
			for _, r := range s.roots(v) {
				c, err := v.CopyToSnapshot(r)
				if err != nil {
					return nil, connect.NewError(connect.CodeFailedPrecondition, err)
				}
				roots = append(roots, c)
			}
		}
		doc, err := snapshot.Build(v, roots)
		if err != nil {
			return nil, connect.NewError(connect.CodeFailedPrecondition, err)
		}
		data, err := doc.Encode()
		if err != nil {
			return nil, err
		}
		return &SnapshotResponse{Data: data, Objects: len(doc.Objects), Atoms: len(doc.Atoms)}, nil
	})
	if err != nil {
		return nil, workerError(err)
	}
	return connect.NewResponse(result.(*SnapshotResponse)), nil
}

// workerError maps a worker failure to a Connect error, keeping codes set by
// the request function.
func workerError(err error) error {
	var ce *connect.Error
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrWorkerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	case errors.Is(err, vm.ErrOutOfMemory):
		return connect.NewError(connect.CodeResourceExhausted, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	return connect.NewError(connect.CodeInternal, fmt.Errorf("heap worker: %w", err))
}
