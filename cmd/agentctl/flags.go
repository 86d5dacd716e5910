package main

import (
	"bytes"
	"flag"
	"io"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

func jsonReader(data []byte) io.Reader {
	return bytes.NewReader(data)
}
