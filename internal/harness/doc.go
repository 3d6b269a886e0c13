// Package harness runs conformance scenarios against the engine.
//
// A scenario loads a CUE program into a fresh backend, then executes steps
// that store and retract facts, run the program's named queries and define
// scoped rules. Each query step can check its rows, its row count or the
// error code it fails with.
//
// # Scenario Format
//
//	name: grandparents
//	description: "Grandparents are derived through two ParentOf hops"
//	program: programs/family.cue
//	backend: sqlite          # memory (default) or sqlite
//	query_id: q-family       # fixed query id for golden output
//	steps:
//	  - query: grandparents
//	    expect:
//	      - {g: john, c: bob}
//	      - {g: john, c: carol}
//	  - store:
//	      - [ParentOf, bob, dan]
//	  - query: grandparents
//	    expect_count: 4
//	  - scope:
//	      source: |
//	        predicate: SiblingOf: inferred: ["person", "person"]
//	        rule: [{head: ["SiblingOf", "?a", "?b"], body: [...]}]
//	        query: siblings: [["SiblingOf", "?a", "?b"]]
//	      steps:
//	        - query: siblings
//	          expect_count: 2
//
// Instead of program a scenario may carry its program inline under source.
// Scope fragments may use every predicate already in scope and may declare
// new ones; their rules disappear when the scope's steps finish. Facts
// stored inside a scope are not scoped.
//
// # Error Codes
//
// expect_error matches the engine's runtime codes (NOT_STORABLE,
// UNDEFINED_PREDICATE), the rule definition codes (HEAD_NOT_INFERRED,
// UNBOUND_HEAD_VARIABLE, ...) and COMPILE_ERROR for scope fragments that
// do not compile.
//
// # Deterministic Output
//
// Every query reports the scenario's fixed query id and trace rows are
// sorted by their canonical JSON, so the same scenario produces the same
// golden snapshot on every backend.
package harness
