// Command depscheck keeps the health model free of transport, storage and
// terminal dependencies. It runs `go list` over the core packages and fails
// when one imports a forbidden path.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
)

type packageInfo struct {
	ImportPath string
	Imports    []string
}

var corePackages = []string{
	"./attributes/...",
	"./internal/death/...",
	"./internal/effect/...",
	"./internal/events/...",
	"./internal/execution/...",
	"./internal/health/...",
	"./internal/lifecycle/...",
	"./internal/replication/...",
	"./internal/tags/...",
}

var forbiddenPrefixes = []string{
	"vitals/server/internal/net",
	"vitals/server/internal/storage",
	"vitals/server/internal/hudview",
	"vitals/server/internal/app",
	"github.com/gorilla/websocket",
	"github.com/gdamore/tcell",
	"modernc.org/sqlite",
	"database/sql",
	"net/http",
}

func main() {
	args := append([]string{"list", "-json"}, corePackages...)
	cmd := exec.Command("go", args...)
	cmd.Env = os.Environ()
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Stderr.Write(exitErr.Stderr)
		}
		fmt.Fprintf(os.Stderr, "depscheck: failed to list packages: %v\n", err)
		os.Exit(1)
	}

	pkgs, err := decodePackages(output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "depscheck: failed to decode package info: %v\n", err)
		os.Exit(1)
	}

	if violations := findViolations(pkgs, forbiddenPrefixes); len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "depscheck: found forbidden imports:")
		for _, violation := range violations {
			fmt.Fprintf(os.Stderr, "  %s\n", violation)
		}
		os.Exit(1)
	}
}

func decodePackages(output []byte) ([]packageInfo, error) {
	decoder := json.NewDecoder(bytes.NewReader(output))
	var pkgs []packageInfo
	for {
		var pkg packageInfo
		if err := decoder.Decode(&pkg); err != nil {
			if errors.Is(err, io.EOF) {
				return pkgs, nil
			}
			return nil, err
		}
		pkgs = append(pkgs, pkg)
	}
}

// findViolations returns sorted "pkg -> import" lines.
func findViolations(pkgs []packageInfo, forbidden []string) []string {
	var violations []string
	for _, pkg := range pkgs {
		for _, imp := range pkg.Imports {
			for _, prefix := range forbidden {
				if imp == prefix || strings.HasPrefix(imp, prefix+"/") {
					violations = append(violations, fmt.Sprintf("%s -> %s", pkg.ImportPath, imp))
					break
				}
			}
		}
	}
	sort.Strings(violations)
	return violations
}
