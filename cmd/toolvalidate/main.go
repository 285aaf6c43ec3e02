// Command toolvalidate loads every tool configuration file under a
// directory, validates each against the strict tool-configuration schema
// and the composite-sequence reference checks, and reports the result
// (§4.3, §6). It exits non-zero if any file fails to parse or any
// sequence reference cannot be resolved, making it suitable as a CI gate
// over a tools.d directory before shipping it to a running server.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ahma-project/mcp-shelladapter/internal/registry"
)

func main() {
	toolsDir := flag.String("tools-dir", "tools.d", "directory of tool configuration JSON files")
	guidancePath := flag.String("guidance", "tool_guidance.json", "path to the guidance store JSON file")
	flag.Parse()

	reg, loadErrs, err := registry.Load(*toolsDir, *guidancePath)
	for _, lerr := range loadErrs {
		fmt.Fprintln(os.Stderr, "FAIL", lerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "FAIL", err)
		os.Exit(1)
	}

	for name := range reg.Tools {
		fmt.Println("OK", name)
	}
	if len(loadErrs) > 0 {
		os.Exit(1)
	}
	fmt.Printf("%d tool(s) valid\n", len(reg.Tools))
}
