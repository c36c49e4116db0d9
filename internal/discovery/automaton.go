// Custodia - Copyright Infringement Detection Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/custodia

package discovery

// patternKind distinguishes what an automaton hit means for its config.
type patternKind uint8

const (
	patternKeyword patternKind = iota
	patternFilter
)

// patternRef ties an automaton pattern back to the compiled config that
// registered it.
type patternRef struct {
	config int
	kind   patternKind
}

// automaton is an Aho-Corasick matcher over the keyword and filter
// substrings of every enabled config. One pass over the video text finds
// all occurrences in O(n + m + z) time, where n is the text length, m the
// total pattern length and z the number of hits, instead of one Contains
// scan per pattern per config.
//
// Patterns and text must already be lowercased. build must complete
// before the first scan; the structure is immutable afterwards, so
// concurrent scans are safe.
type automaton struct {
	root     *acNode
	patterns []string
	refs     []patternRef
	built    bool
}

// acNode is one trie state. failure points at the state for the longest
// proper suffix of the path so far; output holds the indices of patterns
// ending at this state, including those inherited over failure links.
type acNode struct {
	children map[rune]*acNode
	failure  *acNode
	output   []int
}

func newACNode() *acNode {
	return &acNode{children: make(map[rune]*acNode)}
}

func newAutomaton() *automaton {
	return &automaton{root: newACNode()}
}

// add registers a pattern. Empty patterns are ignored.
func (a *automaton) add(pattern string, ref patternRef) {
	if pattern == "" {
		return
	}
	a.patterns = append(a.patterns, pattern)
	a.refs = append(a.refs, ref)
	a.built = false
}

// build constructs the trie and failure links for the added patterns.
func (a *automaton) build() {
	a.root = newACNode()
	for i, p := range a.patterns {
		a.insert(i, p)
	}
	a.linkFailures()
	a.built = true
}

func (a *automaton) insert(index int, pattern string) {
	node := a.root
	for _, ch := range pattern {
		next := node.children[ch]
		if next == nil {
			next = newACNode()
			node.children[ch] = next
		}
		node = next
	}
	node.output = append(node.output, index)
}

// linkFailures builds failure links breadth-first. Each node inherits the
// output of its failure target, so a pattern that is a suffix of another
// still surfaces when the longer path is walked.
func (a *automaton) linkFailures() {
	queue := make([]*acNode, 0, len(a.root.children))
	for _, child := range a.root.children {
		child.failure = a.root
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for ch, child := range current.children {
			queue = append(queue, child)

			fail := current.failure
			for fail != nil && fail.children[ch] == nil {
				fail = fail.failure
			}
			if fail == nil {
				child.failure = a.root
			} else {
				child.failure = fail.children[ch]
				child.output = append(child.output, child.failure.output...)
			}
		}
	}
}

// scan walks the text once and invokes visit for every pattern hit. A
// pattern occurring several times visits once per occurrence.
func (a *automaton) scan(text string, visit func(patternRef)) {
	if !a.built || len(a.patterns) == 0 {
		return
	}

	node := a.root
	for _, ch := range text {
		for node != nil && node.children[ch] == nil {
			node = node.failure
		}
		if node == nil {
			node = a.root
			continue
		}
		node = node.children[ch]

		for _, idx := range node.output {
			visit(a.refs[idx])
		}
	}
}

// size returns the number of registered patterns.
func (a *automaton) size() int {
	return len(a.patterns)
}
