// Command contentcache inspects and maintains a content cache on disk or in
// a shared store.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jmgilman/go/contentcache/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
