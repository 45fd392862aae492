package main

import (
	"bytes"
	"testing"

	"github.com/dunamismax/pixelthumb/internal/domain"
)

func TestArena_AllocViewFree(t *testing.T) {
	a := newArena()
	ptr := a.alloc(16)
	if ptr == 0 {
		t.Fatal("expected non-zero address")
	}

	buf, err := a.view(ptr, 16)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	copy(buf, "hello")
	again, err := a.view(ptr, 5)
	if err != nil || string(again) != "hello" {
		t.Fatalf("expected shared storage, got %q (%v)", again, err)
	}

	if _, err := a.view(ptr, 17); err == nil {
		t.Fatal("expected error for length past the allocation")
	}
	if _, err := a.view(ptr+1, 1); err == nil {
		t.Fatal("expected error for an address inside the allocation")
	}

	if !a.free(ptr) {
		t.Fatal("expected free to succeed")
	}
	if a.free(ptr) {
		t.Fatal("expected double free to be rejected")
	}
	if _, err := a.view(ptr, 1); err == nil {
		t.Fatal("expected error after free")
	}
}

func TestArena_ZeroLength(t *testing.T) {
	a := newArena()
	if ptr := a.alloc(0); ptr != 0 {
		t.Fatalf("expected zero address for empty allocation, got %#x", ptr)
	}
	buf, err := a.view(0, 0)
	if err != nil || buf != nil {
		t.Fatalf("expected empty view, got %v (%v)", buf, err)
	}
}

func TestArena_GeneratePinsResponse(t *testing.T) {
	a := newArena()
	inPtr := a.alloc(3)
	envPtr := a.alloc(2)
	in, _ := a.view(inPtr, 3)
	env, _ := a.view(envPtr, 2)
	copy(in, "abc")
	copy(env, "{}")

	var gotInput, gotEnvelope []byte
	handle := func(input, envelope []byte) []byte {
		gotInput, gotEnvelope = bytes.Clone(input), bytes.Clone(envelope)
		return []byte(`{"ok":true}`)
	}

	ptr, n := a.generate(handle, inPtr, 3, envPtr, 2)
	if string(gotInput) != "abc" || string(gotEnvelope) != "{}" {
		t.Fatalf("handle saw input=%q envelope=%q", gotInput, gotEnvelope)
	}

	resp, err := a.view(ptr, n)
	if err != nil {
		t.Fatalf("response is not pinned: %v", err)
	}
	if string(resp) != `{"ok":true}` {
		t.Fatalf("unexpected response %q", resp)
	}
	if !a.free(ptr) {
		t.Fatal("expected the host to be able to free the response")
	}
}

func TestArena_GenerateRejectsUnknownBuffers(t *testing.T) {
	a := newArena()
	called := false
	handle := func(_, _ []byte) []byte {
		called = true
		return nil
	}

	ptr, n := a.generate(handle, 1234, 10, 0, 0)
	if called {
		t.Fatal("handle must not run for unknown buffers")
	}

	resp, err := a.view(ptr, n)
	if err != nil {
		t.Fatalf("error envelope is not pinned: %v", err)
	}
	decoded, err := domain.DecodeResponse(resp)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded.OK || decoded.ErrorKind != "invalid_parameters" {
		t.Fatalf("unexpected response %+v", decoded)
	}
}

func TestPack(t *testing.T) {
	got := pack(0x0001_2340, 0x99)
	if got>>32 != 0x0001_2340 || uint32(got) != 0x99 {
		t.Fatalf("unexpected packing %#x", got)
	}
}
