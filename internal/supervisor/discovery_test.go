package supervisor

import (
	"encoding/json"
	"testing"
)

func TestParseProcessesJSONWithStringCommand(t *testing.T) {
	cfg, err := ParseProcessesConfig([]byte(`{
		"processes": {
			"counter": {
				"command": "python counter.py",
				"owns": "counter.json",
				"cwd": "/home/user/examples"
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	counter := cfg.Processes["counter"]
	if counter.Command.Program() != "python" {
		t.Fatalf("expected program python, got %q", counter.Command.Program())
	}
	if len(counter.Command.Args()) != 1 || counter.Command.Args()[0] != "counter.py" {
		t.Fatalf("unexpected args: %v", counter.Command.Args())
	}
	if counter.Owns != "counter.json" || counter.Cwd != "/home/user/examples" {
		t.Fatalf("unexpected owns/cwd: %q %q", counter.Owns, counter.Cwd)
	}
}

func TestParseProcessesJSONWithArrayCommand(t *testing.T) {
	cfg, err := ParseProcessesConfig([]byte(`{
		"processes": {
			"server": {
				"command": ["node", "server.js", "--port", "3000"],
				"owns": "state.json",
				"cwd": "/opt/app"
			}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	server := cfg.Processes["server"]
	if server.Command.Program() != "node" {
		t.Fatalf("expected program node, got %q", server.Command.Program())
	}
	want := []string{"server.js", "--port", "3000"}
	got := server.Command.Args()
	if len(got) != len(want) {
		t.Fatalf("unexpected args: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected args: %v", got)
		}
	}
}

func TestCommandSpecEmptyInputs(t *testing.T) {
	var simple CommandSpec
	if err := json.Unmarshal([]byte(`""`), &simple); err != nil {
		t.Fatal(err)
	}
	if simple.Program() != "" || len(simple.Args()) != 0 {
		t.Fatalf("expected empty program/args, got %q %v", simple.Program(), simple.Args())
	}

	var array CommandSpec
	if err := json.Unmarshal([]byte(`[]`), &array); err != nil {
		t.Fatal(err)
	}
	if array.Program() != "" || len(array.Args()) != 0 {
		t.Fatalf("expected empty program/args, got %q %v", array.Program(), array.Args())
	}
}

func TestCommandSpecRoundtripsJSON(t *testing.T) {
	simple := CommandSpec{simple: "python script.py"}
	data, err := json.Marshal(simple)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"python script.py"` {
		t.Fatalf("unexpected json: %s", data)
	}
}
