// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"fmt"
	"strings"
)

// dialect describes the lexical rules of one expression language.
type dialect struct {
	// stringQuotes delimit string literals. A doubled quote is an escape.
	stringQuotes string

	// identQuote delimits quoted identifiers ('Table Name' in DAX). 0 disables.
	identQuote byte

	// bracketIdents treats [ ... ] contents as an identifier. "]]" escapes.
	bracketIdents bool

	// hashIdents enables #"Quoted Identifier" (M).
	hashIdents bool

	lineComments  []string
	blockComments bool
}

var (
	sourceDialect = dialect{
		stringQuotes:  `'"`,
		bracketIdents: true,
		blockComments: true,
	}
	exprDialect = dialect{
		stringQuotes:  `"`,
		identQuote:    '\'',
		bracketIdents: true,
		lineComments:  []string{"//", "--"},
		blockComments: true,
	}
	queryDialect = dialect{
		stringQuotes:  `"`,
		hashIdents:    true,
		lineComments:  []string{"//"},
		blockComments: true,
	}
)

// scanned is the masked view of a text.
//
// code has string literals, identifier contents and comments replaced by
// spaces, so delimiters and keywords can be matched with plain regexes.
// withIdents masks only string literals and comments. Both preserve byte
// offsets and newlines.
type scanned struct {
	code         string
	withIdents   string
	unterminated string
}

func scan(text string, d dialect) scanned {
	code := []byte(text)
	idents := []byte(text)
	n := len(text)

	blank := func(buf []byte, from, to int) {
		for i := from; i < to && i < n; i++ {
			if buf[i] != '\n' {
				buf[i] = ' '
			}
		}
	}

	// closeQuoted returns the index just past the closing quote, honoring
	// doubled-quote escapes, or -1 when the quote never closes.
	closeQuoted := func(start int, q byte) int {
		for i := start; i < n; i++ {
			if text[i] != q {
				continue
			}
			if i+1 < n && text[i+1] == q {
				i++
				continue
			}
			return i + 1
		}
		return -1
	}

	var unterminated string
	i := 0
	for i < n {
		c := text[i]

		if d.blockComments && strings.HasPrefix(text[i:], "/*") {
			end := strings.Index(text[i+2:], "*/")
			stop := n
			if end < 0 {
				unterminated = "block comment"
			} else {
				stop = i + 2 + end + 2
			}
			blank(code, i, stop)
			blank(idents, i, stop)
			i = stop
			continue
		}

		if lc := matchPrefix(text[i:], d.lineComments); lc != "" {
			end := strings.IndexByte(text[i:], '\n')
			stop := n
			if end >= 0 {
				stop = i + end
			}
			blank(code, i, stop)
			blank(idents, i, stop)
			i = stop
			continue
		}

		if d.hashIdents && c == '#' && i+1 < n && text[i+1] == '"' {
			stop := closeQuoted(i+2, '"')
			if stop < 0 {
				unterminated = "quoted identifier"
				stop = n
			}
			blank(code, i, stop)
			i = stop
			continue
		}

		if strings.IndexByte(d.stringQuotes, c) >= 0 {
			stop := closeQuoted(i+1, c)
			if stop < 0 {
				unterminated = "string literal"
				stop = n
			}
			blank(code, i, stop)
			blank(idents, i, stop)
			i = stop
			continue
		}

		if d.identQuote != 0 && c == d.identQuote {
			stop := closeQuoted(i+1, c)
			if stop < 0 {
				unterminated = "quoted identifier"
				stop = n
			}
			blank(code, i, stop)
			i = stop
			continue
		}

		if d.bracketIdents && c == '[' {
			stop := closeBracket(text, i+1)
			if stop < 0 {
				// Leave the bracket visible so the balance check reports it.
				blank(code, i+1, n)
				i = n
				continue
			}
			blank(code, i+1, stop-1)
			i = stop
			continue
		}

		i++
	}

	return scanned{code: string(code), withIdents: string(idents), unterminated: unterminated}
}

// closeBracket returns the index just past the ] closing a bracket
// identifier that starts at from, or -1. "]]" is an escaped bracket.
func closeBracket(text string, from int) int {
	for i := from; i < len(text); i++ {
		switch text[i] {
		case ']':
			if i+1 < len(text) && text[i+1] == ']' {
				i++
				continue
			}
			return i + 1
		case '\n':
			return -1
		}
	}
	return -1
}

func matchPrefix(s string, prefixes []string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return p
		}
	}
	return ""
}

// =============================================================================
// Delimiter balance
// =============================================================================

var closerFor = map[byte]byte{'(': ')', '[': ']', '{': '}'}

type balance struct {
	ok     bool
	detail string
}

// checkBalance runs a stack over ()[]{} in already-masked code.
func checkBalance(code string) balance {
	type open struct {
		ch  byte
		pos int
	}
	var stack []open

	for i := 0; i < len(code); i++ {
		c := code[i]
		switch c {
		case '(', '[', '{':
			stack = append(stack, open{ch: c, pos: i})
		case ')', ']', '}':
			if len(stack) == 0 {
				return balance{detail: fmt.Sprintf("unexpected '%c' at offset %d", c, i)}
			}
			top := stack[len(stack)-1]
			if closerFor[top.ch] != c {
				return balance{detail: fmt.Sprintf("'%c' at offset %d closes '%c' opened at offset %d", c, i, top.ch, top.pos)}
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return balance{detail: fmt.Sprintf("'%c' opened at offset %d is never closed", top.ch, top.pos)}
	}
	return balance{ok: true}
}

func unbalancedIssue(b balance) string {
	return "Unbalanced parentheses: " + b.detail
}

// depthAt returns the delimiter nesting depth before each byte of code.
func depthAt(code string) []int {
	depths := make([]int, len(code)+1)
	depth := 0
	for i := 0; i < len(code); i++ {
		depths[i] = depth
		switch code[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		}
	}
	depths[len(code)] = depth
	return depths
}

// uniqueAppend appends s when it is not already present.
func uniqueAppend(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
