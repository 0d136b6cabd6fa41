// Package secretbuf provides short-lived buffers for generated key material.
//
// On unix systems a Buffer is an anonymous mmap region outside the Go heap,
// locked into RAM where the process limits allow it and excluded from core
// dumps. The garbage collector never copies it, so Zero and Close reliably
// erase every byte that was ever written. Other platforms fall back to a heap
// slice that is still wiped on Close.
//
// A chunk lives in a Buffer only between generation and transmission; the
// pacing controller owns exactly one Buffer per running request.
package secretbuf
