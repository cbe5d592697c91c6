package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ProcessSpec names one process to create before the trace runs, and how
// many threads to pre-register on it.
type ProcessSpec struct {
	Name    string `yaml:"name"`
	Threads int    `yaml:"threads"`
}

// Step is one syscall-level action in a scenario trace. Not every field
// applies to every op; see engine.run in runner.go for which ones a given op
// reads.
type Step struct {
	// Name labels this step so a later step's Join can refer to it.
	Name string `yaml:"name,omitempty"`
	// Thread selects the calling thread as "process.index", e.g. "server.0".
	Thread string `yaml:"thread"`
	// Op is one of the internal/syscall Dispatcher operations, spelled the
	// way spec.md §6 names them (create_port, connect_to_port, ipc_accept,
	// ipc_request, ipc_receive, ipc_reply, create_session, close_handle,
	// suspend_current_thread, wake_thread, exit_process, get_system_tick),
	// plus "tick" for a bare scheduler tick and "transfer_handle" for the
	// handle-translation path.
	Op string `yaml:"op"`

	Tag      uint64   `yaml:"tag,omitempty"`
	Handle   string   `yaml:"handle,omitempty"`
	Handles  []string `yaml:"handles,omitempty"`
	Store    string   `yaml:"store,omitempty"`
	// Store2 names create_session's second handle (the client end); Store
	// names the first (the server end).
	Store2   string `yaml:"store2,omitempty"`
	Payload  string `yaml:"payload,omitempty"`
	MethodID uint32 `yaml:"method_id,omitempty"`

	// Async runs this step's syscall in the background instead of blocking
	// the trace; a later step joins it by Name via Join.
	Async bool   `yaml:"async,omitempty"`
	Join  string `yaml:"join,omitempty"`

	// TargetThread and WakeTag are wake_thread's arguments: the thread
	// whose handle to look up and the tag to deliver.
	TargetThread string `yaml:"target_thread,omitempty"`
	WakeTag      uint64 `yaml:"wake_tag,omitempty"`

	// TargetProcess and Move are transfer_handle's arguments: which
	// process's table receives the translated handle, and whether the
	// source is closed (move) or left open (copy).
	TargetProcess string `yaml:"target_process,omitempty"`
	Move          bool   `yaml:"move,omitempty"`
}

// Scenario is a full recorded trace: the processes/threads to bring up
// before replay, and the ordered steps to play against them.
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Processes   []ProcessSpec `yaml:"processes"`
	Steps       []Step        `yaml:"steps"`
}

// loadScenario reads and parses a scenario file from path.
func loadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kestrelsim: reading scenario: %w", err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("kestrelsim: parsing scenario: %w", err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("kestrelsim: scenario has no name")
	}
	if len(sc.Processes) == 0 {
		return nil, fmt.Errorf("kestrelsim: scenario %q declares no processes", sc.Name)
	}
	return &sc, nil
}
