//go:build linux

// Command cat reads a file through an io_uring ring and writes it to stdout.
package main

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/hadrosaur/ioring/uring"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: cat <file>")
		os.Exit(1)
	}

	log := zerolog.New(os.Stderr).Level(zerolog.DebugLevel)

	ring, err := uring.New(8, uring.WithLogger(log))
	checkErr(err)
	defer ring.Close()

	f, err := os.Open(os.Args[1])
	checkErr(err)
	defer f.Close()

	op, err := uring.ReadV(f, 4096)
	checkErr(err)

	checkErr(ring.QueueSQE(op, 0, 0))

	_, err = ring.SubmitAndWaitCQEvents(1)
	checkErr(err)

	cqe, err := ring.WaitCQEvents(1)
	checkErr(err)
	checkErr(cqe.Error())
	ring.SeenCQE(cqe)

	remaining := uint64(cqe.Res)
	for _, vec := range op.IOVecs {
		if remaining == 0 {
			break
		}
		n := vec.Len
		if n > remaining {
			n = remaining
		}
		os.Stdout.Write(unsafe.Slice(vec.Base, n))
		remaining -= n
	}
}

func checkErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
