// Command boundcheck-opt reads an LLVM IR module already instrumented
// with checkLowerBound/checkUpperBound calls, runs the redundant
// bounds-check elimination pipeline over it, and writes the
// transformed module back out.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"

	"github.com/dshills/boundcheck/internal/checkabi"
	"github.com/dshills/boundcheck/internal/collab"
	"github.com/dshills/boundcheck/internal/driver"
)

func main() {
	var input string
	var output string
	var insertChecks bool
	flag.StringVar(&input, "file", "", "LLVM IR (.ll) file to optimize (reads from stdin if not provided)")
	flag.StringVar(&output, "o", "", "Output file (default: stdout)")
	flag.BoolVar(&insertChecks, "insert-checks", false, "Run the metadata-driven check-insertion collaborator before optimizing")
	flag.Parse()

	if err := run(input, output, insertChecks); err != nil {
		fmt.Fprintf(os.Stderr, "boundcheck-opt: %v\n", err)
		os.Exit(1)
	}
}

func run(input, output string, insertChecks bool) error {
	var data []byte
	var err error
	if input == "" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(input)
	}
	if err != nil {
		return fmt.Errorf("reading input: %w", err)
	}

	name := input
	if name == "" {
		name = "<stdin>"
	}
	m, err := asm.Parse(name, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parsing LLVM IR: %w", err)
	}

	if insertChecks {
		insertCollaboratorChecks(m)
	}

	cfg := driver.FromEnv()
	d := driver.New(cfg)
	if err := d.Run(m); err != nil {
		fmt.Fprintf(os.Stderr, "boundcheck-opt: %v\n", err)
	}
	if err := d.FlushStats(); err != nil {
		fmt.Fprintf(os.Stderr, "boundcheck-opt: %v\n", err)
	}

	out := []byte(m.String())
	if output == "" {
		_, err = os.Stdout.Write(out)
		return err
	}
	return os.WriteFile(output, out, 0o600)
}

// insertCollaboratorChecks runs the metadata-attachment and
// check-insertion passes over every defined procedure, then scrubs the metadata so a
// later pipeline run over the same module sees no stale annotations.
func insertCollaboratorChecks(m *ir.Module) {
	checkLB := checkabi.Declare(m, checkabi.LowerBoundFunc)
	checkUB := checkabi.Declare(m, checkabi.UpperBoundFunc)
	for _, fn := range m.Funcs {
		if len(fn.Blocks) == 0 {
			continue
		}
		md := collab.AttachMetadata(fn)
		collab.InsertChecks(fn, md, checkLB, checkUB)
		collab.ScrubArrayAccessMetadata(fn, md)
	}
}
