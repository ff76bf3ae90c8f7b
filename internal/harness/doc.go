// Package harness runs syscall scenarios against a deterministic kernel.
//
// A scenario names the processes to create, the raw syscalls each one
// issues, and what the results and the final kernel state must be. Every
// run uses a fresh kernel with a logical clock, a seeded random stream and
// a fixed SysLog session, so the same scenario always produces the same
// commit log. The log is replayed at the end of each run and its state
// hash compared with the live kernel's.
//
// # Scenario Format
//
//	name: grant_chain
//	description: "A granted capability is attenuated and revocable"
//	seed: 7
//	processes:
//	  - name: server
//	  - name: client
//	    parent: server
//	steps:
//	  - as: server
//	    syscall: CREATE_ENDPOINT
//	    expect: 0
//	  - as: server
//	    syscall: CAP_GRANT
//	    args: [0, "@client", "rw-"]
//	    expect: ok
//	  - as: client
//	    syscall: CAP_GRANT
//	    args: [0, "@server", "r--"]
//	    expect: EINSUFFICIENT
//	assertions:
//	  - type: process_state
//	    process: client
//	    state: Running
//	  - type: commit_kinds
//	    kinds: [EndpointCreated, CapInserted, CapGranted]
//
// Step arguments are integers, "@name" for the pid of a scenario
// process, or a permission string such as "rw-". An expectation is
// "ok" (any non-negative result), an errno name, or an exact integer.
// A manifest path may replace or precede the process list; manifest
// processes are addressable by name in the same way.
//
// # Golden Traces
//
// RunWithGolden renders the step results and the commit log as text and
// compares it with testdata/golden/<name>.golden. Commit ids and
// timestamps are left out so that the traces stay readable; replay
// verification already covers the hash chain.
package harness
