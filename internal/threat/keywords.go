// CampusGuard - University Identity Security Analysis
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/campusguard

package threat

import "strings"

// keywordSet finds every occurrence of a fixed set of case-insensitive
// keywords in one pass (Aho-Corasick). It is built once and read-only
// afterwards, so concurrent Search calls need no locking.
type keywordSet struct {
	root     *kwNode
	keywords []Signature
}

type kwNode struct {
	next map[rune]*kwNode
	fail *kwNode
	out  []int
}

func newKWNode() *kwNode {
	return &kwNode{next: make(map[rune]*kwNode)}
}

func newKeywordSet(sigs []Signature) *keywordSet {
	ks := &keywordSet{root: newKWNode(), keywords: sigs}
	for i, sig := range sigs {
		node := ks.root
		for _, ch := range strings.ToLower(sig.Pattern) {
			child, ok := node.next[ch]
			if !ok {
				child = newKWNode()
				node.next[ch] = child
			}
			node = child
		}
		node.out = append(node.out, i)
	}

	queue := make([]*kwNode, 0, len(ks.root.next))
	for _, child := range ks.root.next {
		child.fail = ks.root
		queue = append(queue, child)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for ch, child := range cur.next {
			queue = append(queue, child)
			f := cur.fail
			for f != nil && f.next[ch] == nil {
				f = f.fail
			}
			if f == nil {
				child.fail = ks.root
			} else {
				child.fail = f.next[ch]
				child.out = append(child.out, child.fail.out...)
			}
		}
	}
	return ks
}

// search returns the distinct signatures found in text, in first-seen order.
func (ks *keywordSet) search(text string) []Signature {
	if len(ks.keywords) == 0 {
		return nil
	}
	seen := make(map[int]bool)
	var found []Signature
	node := ks.root
	for _, ch := range strings.ToLower(text) {
		for node != ks.root && node.next[ch] == nil {
			node = node.fail
		}
		if nxt, ok := node.next[ch]; ok {
			node = nxt
		}
		for _, idx := range node.out {
			if !seen[idx] {
				seen[idx] = true
				found = append(found, ks.keywords[idx])
			}
		}
	}
	return found
}
