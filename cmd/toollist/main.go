// Command toollist loads a tools.d directory, runs each tool's configured
// availability probe, and prints every loaded tool with whether it is
// available and, if not, the reason (its install instructions, or a note
// that the probe failed). With -json it prints the same information as a JSON array instead of a
// table, for scripting.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/ahma-project/mcp-shelladapter/internal/registry"
)

type row struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

func main() {
	toolsDir := flag.String("tools-dir", "tools.d", "directory of tool configuration JSON files")
	guidancePath := flag.String("guidance", "tool_guidance.json", "path to the guidance store JSON file")
	asJSON := flag.Bool("json", false, "print results as a JSON array instead of a table")
	probeTimeout := flag.Duration("probe-timeout", 5*time.Second, "timeout for each availability probe")
	flag.Parse()

	reg, loadErrs, err := registry.Load(*toolsDir, *guidancePath)
	for _, lerr := range loadErrs {
		fmt.Fprintln(os.Stderr, "warning:", lerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "toollist:", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(reg.Tools))
	for name := range reg.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]row, 0, len(names))
	for _, name := range names {
		cfg := reg.Tools[name]
		if !cfg.IsEnabled() {
			rows = append(rows, row{Name: name, Available: false, Reason: "disabled"})
			continue
		}
		if cfg.AvailabilityCheck == nil {
			rows = append(rows, row{Name: name, Available: true})
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), *probeTimeout)
		ok := registry.ProbeAvailability(ctx, *cfg.AvailabilityCheck, cfg.Command)
		cancel()
		reason := ""
		if !ok {
			reason = cfg.InstallInstructions
			if reason == "" {
				reason = "availability probe failed"
			}
		}
		rows = append(rows, row{Name: name, Available: ok, Reason: reason})
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rows); err != nil {
			fmt.Fprintln(os.Stderr, "toollist:", err)
			os.Exit(1)
		}
		return
	}

	for _, r := range rows {
		status := "available"
		if !r.Available {
			status = "unavailable"
		}
		if r.Reason != "" {
			fmt.Printf("%-24s %s (%s)\n", r.Name, status, r.Reason)
		} else {
			fmt.Printf("%-24s %s\n", r.Name, status)
		}
	}
}
