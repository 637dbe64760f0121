package core

import "sync"

// shutdownRegistry tracks the Buffers opened by a process so a host
// process can drain and close all of them on a termination signal: the
// buffer registers itself on open and deregisters on close, and a host
// process can invoke the registry from its own signal handler. core
// itself never touches os/signal; cmd/server handles its signals by
// closing its one buffer through remote.StartRPC's cleanup and does
// not call CloseAll.
type shutdownRegistry struct {
	mu      sync.Mutex
	buffers map[*Buffer]struct{}
}

var globalShutdownRegistry = &shutdownRegistry{buffers: make(map[*Buffer]struct{})}

func (r *shutdownRegistry) register(b *Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers[b] = struct{}{}
}

func (r *shutdownRegistry) deregister(b *Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.buffers, b)
}

// CloseAll closes every currently-open Buffer in this process. It is
// for a host process's own signal handler to call; core never invokes
// it automatically.
func CloseAll() []error {
	globalShutdownRegistry.mu.Lock()
	buffers := make([]*Buffer, 0, len(globalShutdownRegistry.buffers))
	for b := range globalShutdownRegistry.buffers {
		buffers = append(buffers, b)
	}
	globalShutdownRegistry.mu.Unlock()

	var errs []error
	for _, b := range buffers {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
