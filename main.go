package main

import (
	"fmt"
	"os"

	"github.com/sloonz/btrfs-relay/cmd"
	relay "github.com/sloonz/btrfs-relay/lib"
)

func main() {
	args, err := relay.SpliceArgFiles(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	os.Args = append(os.Args[:1], args...)

	os.Exit(cmd.Execute())
}
