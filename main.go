// embedctl - drives an embedded analytics frame over a websocket host
package main

import (
	"context"
	"os"

	"github.com/thoughtspot/visual-embed-sdk-sub001/internal/logging"
)

func main() {
	logging.Setup()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
