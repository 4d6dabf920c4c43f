// Command scribe-worker runs a Gazette consumer process hosting Scribe
// document shards, grounded on the teacher's cmd/flow-consumer entrypoint.
package main

import (
	"go.gazette.dev/core/mainboilerplate/runconsumer"

	"github.com/estuary/scribe/internal/scribe"
)

func main() {
	runconsumer.Main(new(scribe.Application))
}
