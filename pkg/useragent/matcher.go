// SitePulse - Real-time Website Session Presence and Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sitepulse

package useragent

// matcher is an Aho-Corasick automaton over a fixed token set. It reports
// every token occurrence in one pass over the text, in O(n + m + z) time.
//
// Matching is case-sensitive: user-agent product tokens are ("Edg" and
// "edge" mean different things).
type matcher struct {
	root     *acNode
	patterns []string
}

type acNode struct {
	children map[byte]*acNode
	failure  *acNode
	output   []int
}

// hit is one token occurrence. End is the byte offset just past the token.
type hit struct {
	Token string
	End   int
}

func newACNode() *acNode {
	return &acNode{children: make(map[byte]*acNode)}
}

func newMatcher(patterns ...string) *matcher {
	m := &matcher{root: newACNode()}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		m.insert(len(m.patterns), p)
		m.patterns = append(m.patterns, p)
	}
	m.buildFailureLinks()
	return m
}

func (m *matcher) insert(index int, pattern string) {
	node := m.root
	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		if node.children[ch] == nil {
			node.children[ch] = newACNode()
		}
		node = node.children[ch]
	}
	node.output = append(node.output, index)
}

// buildFailureLinks links every node to its longest proper suffix in the
// trie, breadth first.
func (m *matcher) buildFailureLinks() {
	queue := make([]*acNode, 0, len(m.root.children))
	for _, child := range m.root.children {
		child.failure = m.root
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
				child.failure = m.root
				continue
			}
			child.failure = fail.children[ch]
			child.output = append(child.output, child.failure.output...)
		}
	}
}

// scan returns every token occurrence in text, keyed by token. Only the
// first occurrence of each token is kept.
func (m *matcher) scan(text string) map[string]hit {
	found := make(map[string]hit)
	node := m.root
	for i := 0; i < len(text); i++ {
		ch := text[i]
		for node != nil && node.children[ch] == nil {
			node = node.failure
		}
		if node == nil {
			node = m.root
			continue
		}
		node = node.children[ch]
		for _, idx := range node.output {
			tok := m.patterns[idx]
			if _, seen := found[tok]; !seen {
				found[tok] = hit{Token: tok, End: i + 1}
			}
		}
	}
	return found
}
