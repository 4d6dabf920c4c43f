// Command scribectl is an operator CLI for inspecting and repairing
// document checkpoint state, grounded on the teacher's go-flags
// subcommand CLIs (cmd/ingester, cmd/flow-ingester).
package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/jessevdk/go-flags"
	mbp "go.gazette.dev/core/mainboilerplate"

	"github.com/estuary/scribe/internal/checkpoint"
)

const iniFilename = "scribectl.ini"

// Config is the top-level configuration object of scribectl.
var Config = new(struct {
	Etcd struct {
		mbp.EtcdConfig
		Prefix string `long:"prefix" env:"PREFIX" default:"/scribe/documents/" description:"Etcd key prefix under which global checkpoints are stored"`
	} `group:"Etcd" namespace:"etcd" env-namespace:"ETCD"`

	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

type cmdGet struct {
	DocumentId string `long:"document" required:"true" description:"Document ID to inspect"`
}

func (c cmdGet) Execute([]string) error {
	mbp.InitLog(Config.Log)
	var etcd = Config.Etcd.MustDial()
	var global = checkpoint.NewGlobalStore(etcd, Config.Etcd.Prefix)

	cp, ok, err := global.ReadCheckpoint(context.Background(), c.DocumentId)
	mbp.Must(err, "reading global checkpoint")
	if !ok {
		fmt.Println(color.YellowString("no global checkpoint found for %s", c.DocumentId))
		return nil
	}

	fmt.Printf("document:               %s\n", c.DocumentId)
	fmt.Printf("sequenceNumber:         %d\n", cp.SequenceNumber)
	fmt.Printf("minimumSequenceNumber:  %d\n", cp.MinimumSequenceNumber)
	fmt.Printf("protocolHead:           %d\n", cp.ProtocolHead)
	fmt.Printf("logOffset:              %d\n", cp.LogOffset)
	fmt.Printf("lastSummarySequenceNum: %d\n", cp.LastSummarySequenceNumber)
	fmt.Printf("lastClientSummaryHead:  %s\n", cp.LastClientSummaryHead)
	fmt.Printf("validParentSummaries:   %v\n", cp.ValidParentSummaries)
	if cp.IsCorrupt {
		fmt.Println(color.RedString("isCorrupt:              true"))
	} else {
		fmt.Printf("isCorrupt:              false\n")
	}
	return nil
}

type cmdDelete struct {
	DocumentId   string `long:"document" required:"true" description:"Document ID whose global checkpoint should be deleted"`
	ProtocolHead uint64 `long:"protocol-head" description:"Protocol head passed to the store's delete call (the global store does not record it)"`
}

func (c cmdDelete) Execute([]string) error {
	mbp.InitLog(Config.Log)
	var etcd = Config.Etcd.MustDial()
	var global = checkpoint.NewGlobalStore(etcd, Config.Etcd.Prefix)

	var err = global.DeleteCheckpoint(context.Background(), c.DocumentId, c.ProtocolHead, false)
	mbp.Must(err, "deleting global checkpoint")

	fmt.Println(color.GreenString("deleted global checkpoint for %s", c.DocumentId))
	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("get-checkpoint", "Print a document's global checkpoint", `
Reads and prints the global (etcd-backed) checkpoint record for a document,
for diagnosing stuck or corrupt documents.
`, &cmdGet{})

	_, _ = parser.AddCommand("delete-checkpoint", "Delete a document's global checkpoint", `
Deletes the global checkpoint record for a document. The partition-local
checkpoint is not touched: the next time a partition claims the shard it
seeds from the local checkpoint if one exists, and otherwise starts a
fresh session.
`, &cmdDelete{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
