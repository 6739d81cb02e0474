package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/kestrel/vm"
)

var log = commonlog.GetLogger("kestrel.server")

// HeapServer serves the heap inspection procedures for a running VM.
type HeapServer struct {
	worker *HeapWorker
	mux    *http.ServeMux
	http   *http.Server
}

// ServerOption configures a HeapServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	snapshotRoots func(*vm.VM) []vm.Value
}

// WithSnapshotRoots sets the function that supplies the values written by
// the Snapshot procedure. It runs on the mutator goroutine. Without it the
// snapshot holds no roots.
func WithSnapshotRoots(fn func(*vm.VM) []vm.Value) ServerOption {
	return func(c *serverConfig) { c.snapshotRoots = fn }
}

// New creates a HeapServer wrapping the given VM. From now on the VM must
// only be used through Worker.
func New(v *vm.VM, opts ...ServerOption) *HeapServer {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &HeapServer{
		worker: NewHeapWorker(v),
		mux:    http.NewServeMux(),
	}
	s.http = &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	svc := NewHeapService(s.worker, cfg.snapshotRoots)
	s.mux.Handle(StatsProcedure, connect.NewUnaryHandler(StatsProcedure, svc.Stats, Codec()))
	s.mux.Handle(CollectGarbageProcedure, connect.NewUnaryHandler(CollectGarbageProcedure, svc.CollectGarbage, Codec()))
	s.mux.Handle(SnapshotProcedure, connect.NewUnaryHandler(SnapshotProcedure, svc.Snapshot, Codec()))
	return s
}

// Handler returns the HTTP handler serving the procedures.
func (s *HeapServer) Handler() http.Handler { return s.mux }

// Worker returns the worker owning the VM.
func (s *HeapServer) Worker() *HeapWorker { return s.worker }

// ListenAndServe starts the HTTP server on the given address and blocks
// until Stop is called or the listener fails.
func (s *HeapServer) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. A fatal heap error shuts the server
// down and is returned.
func (s *HeapServer) Serve(ln net.Listener) error {
	log.Noticef("heap service listening on %s", ln.Addr())
	log.Infof("  stats: http://%s%s", ln.Addr(), StatsProcedure)
	go func() {
		<-s.worker.Done()
		if s.worker.Err() != nil {
			s.shutdown()
		}
	}()
	if err := s.http.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := s.worker.Err(); err != nil {
		return fmt.Errorf("heap service: %w", err)
	}
	return nil
}

func (s *HeapServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		log.Warningf("shutdown: %s", err)
	}
}

// Stop shuts down the HTTP server and the worker.
func (s *HeapServer) Stop() {
	s.shutdown()
	s.worker.Stop()
}
