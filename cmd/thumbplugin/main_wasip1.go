//go:build wasip1

package main

import (
	"log"
	"os"

	"github.com/dunamismax/pixelthumb/internal/pipeline"
	"github.com/dunamismax/pixelthumb/internal/plugin"
)

var (
	logger = log.New(os.Stderr, "[thumbplugin] ", log.LstdFlags|log.Lmsgprefix)
	entry  = plugin.New(logger, pipeline.Config{Limits: pipeline.DefaultLimits(), Workers: 1})
	memory = newArena()
)

// main is not called when built with -buildmode=c-shared; the host drives
// the module through the exports below.
func main() {}

//go:wasmexport thumb_alloc
func thumbAlloc(size uint32) uint32 {
	return uint32(memory.alloc(size))
}

//go:wasmexport thumb_free
func thumbFree(ptr uint32) {
	if !memory.free(uintptr(ptr)) && ptr != 0 {
		logger.Printf("free of unknown address ptr=%#x", ptr)
	}
}

//go:wasmexport thumb_generate
func thumbGenerate(inPtr, inLen, envPtr, envLen uint32) uint64 {
	ptr, n := memory.generate(entry.Handle, uintptr(inPtr), inLen, uintptr(envPtr), envLen)
	return pack(ptr, n)
}
