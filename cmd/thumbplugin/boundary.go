package main

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/dunamismax/pixelthumb/internal/domain"
	"github.com/dunamismax/pixelthumb/internal/pipeline"
)

// arena keeps every buffer shared with the host reachable until the host
// frees it. Keys are the addresses handed out.
type arena struct {
	mu     sync.Mutex
	pinned map[uintptr][]byte
}

func newArena() *arena {
	return &arena{pinned: make(map[uintptr][]byte)}
}

func (a *arena) alloc(size uint32) uintptr {
	if size == 0 {
		return 0
	}
	return a.pin(make([]byte, size))
}

func (a *arena) pin(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	ptr := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	a.mu.Lock()
	a.pinned[ptr] = buf
	a.mu.Unlock()
	return ptr
}

func (a *arena) free(ptr uintptr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pinned[ptr]; !ok {
		return false
	}
	delete(a.pinned, ptr)
	return true
}

// view returns the first n bytes of the pinned buffer starting at ptr.
func (a *arena) view(ptr uintptr, n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	a.mu.Lock()
	buf, ok := a.pinned[ptr]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("address %#x was not allocated by thumb_alloc", ptr)
	}
	if int(n) > len(buf) {
		return nil, fmt.Errorf("length %d exceeds the %d bytes allocated at %#x", n, len(buf), ptr)
	}
	return buf[:n], nil
}

// generate runs handle over the two host buffers and pins the response.
// Buffers that were not handed out by alloc yield an error envelope.
func (a *arena) generate(handle func(input, envelope []byte) []byte, inPtr uintptr, inLen uint32, envPtr uintptr, envLen uint32) (uintptr, uint32) {
	var resp []byte

	input, err := a.view(inPtr, inLen)
	if err == nil {
		var envelope []byte
		envelope, err = a.view(envPtr, envLen)
		if err == nil {
			resp = handle(input, envelope)
		}
	}
	if err != nil {
		resp, _ = domain.EncodeResponse(domain.Failure(string(pipeline.KindInvalidParameters), err.Error()))
	}

	return a.pin(resp), uint32(len(resp))
}

// pack puts a 32-bit linear-memory address in the high half and a length
// in the low half of one wasm i64 result.
func pack(ptr uintptr, n uint32) uint64 {
	return uint64(uint32(ptr))<<32 | uint64(n)
}
