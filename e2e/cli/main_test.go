//go:build e2e

package cli

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"

	"github.com/mediabundler/mediabundler/cmd"
)

func TestMain(m *testing.M) {
	testscript.Main(m, map[string]func(){
		"mediabundler": func() { os.Exit(cmd.Execute()) },
	})
}

func TestScript(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: ".",
		Setup: func(e *testscript.Env) error {
			for _, kv := range os.Environ() {
				if strings.HasPrefix(kv, "E2E_") {
					e.Vars = append(e.Vars, kv)
				}
			}
			return nil
		},
		Condition: func(cond string) (bool, error) {
			args := strings.Split(cond, ":")
			name := args[0]
			switch name {
			case "env":
				if len(args) < 2 {
					return false, fmt.Errorf("syntax: [env:SOME_VAR]")
				}
				return os.Getenv(args[1]) != "", nil
			default:
				return false, fmt.Errorf("unknown condition %s", name)
			}
		},
		Cmds: map[string]func(*testscript.TestScript, bool, []string){
			"countfiles": countFilesCmd,
		},
		// NB: To quickly update expectations in txtar files, try re-running the tests with
		// E2E_UPDATE=y, for example:
		//   E2E_UPDATE=y go test -tags e2e ./e2e/cli -run TestScript/build -v -count=1
		UpdateScripts: os.Getenv("E2E_UPDATE") != "",
	})
}

// countFilesCmd asserts the number of entries in a directory.
func countFilesCmd(ts *testscript.TestScript, neg bool, args []string) {
	if len(args) != 2 {
		ts.Fatalf("usage: countfiles dir n")
	}

	entries, err := os.ReadDir(ts.MkAbs(args[0]))
	ts.Check(err)

	got := fmt.Sprint(len(entries))
	switch {
	case neg && got == args[1]:
		ts.Fatalf("%s has %s entries", args[0], got)
	case !neg && got != args[1]:
		ts.Fatalf("%s has %s entries, expected %s", args[0], got, args[1])
	}
}
