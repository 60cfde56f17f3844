package main

import (
	"io"
	"os"

	"github.com/npcnix/npcnix/pkg/logging"
)

func main() {
	os.Exit(_main(os.Args, os.Stdout))
}

func _main(args []string, out io.Writer) int {
	if err := newApp(out).Run(args); err != nil {
		logging.New("main").WithError(err).Error("command failed")
		return 1
	}
	return 0
}
