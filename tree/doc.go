// Package tree runs authentication journeys over a graph of nodes.
//
// A [Tree] names a start node and, for every node, the node that follows each of its
// outcomes. The reserved targets [Success] and [Failure] end the journey. A [Runner]
// drives one round per request: it steps nodes along advance actions until one asks for
// input, suspends, or reaches a terminal, then persists the journey in a [Store].
//
// Trees are usually loaded from YAML:
//
//	name: login
//	start: creds
//	maxDurationMinutes: 5
//	nodes:
//	  - id: creds
//	    type: ldap
//	    config:
//	      minimumPasswordLength: 8
//	    next:
//	      "true": success
//	      "false": retry
//
// Each node's config block is decoded into the config struct of its registered type.
package tree
