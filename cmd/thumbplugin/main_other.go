//go:build !wasip1

package main

import (
	"log"
	"os"
)

func main() {
	logger := log.New(os.Stderr, "[thumbplugin] ", log.LstdFlags|log.Lmsgprefix)
	logger.Printf("thumbplugin is a WebAssembly module; build it with GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared")
	os.Exit(2)
}
