package splitter

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func split(t *testing.T, path, content string) []*Span {
	t.Helper()
	s := New()
	defer s.Close()
	spans, err := s.Split(context.Background(), &FileInput{Path: path, Content: []byte(content)})
	require.NoError(t, err)
	require.NotEmpty(t, spans)
	return spans
}

// assertPartition checks that spans tile the file with no gaps or overlaps.
func assertPartition(t *testing.T, spans []*Span, totalLines int) {
	t.Helper()
	cursor := 1
	for _, sp := range spans {
		assert.Equal(t, cursor, sp.StartLine, "gap or overlap before span %q", sp.Symbol)
		assert.LessOrEqual(t, sp.StartLine, sp.EndLine)
		cursor = sp.EndLine + 1
	}
	assert.Equal(t, totalLines+1, cursor)
}

func TestPythonFunctionsAndClasses(t *testing.T) {
	src := `import os
from collections import defaultdict

def foo():
    return 1

class Greeter:
    def hello(self):
        return "hi"
`
	spans := split(t, "app/main.py", src)
	assertPartition(t, spans, 9)

	var kinds []SpanKind
	var symbols []string
	for _, sp := range spans {
		kinds = append(kinds, sp.Kind)
		symbols = append(symbols, sp.Symbol)
	}
	assert.Contains(t, symbols, "foo")
	assert.Contains(t, symbols, "Greeter")
	assert.Contains(t, kinds, KindFunction)
	assert.Contains(t, kinds, KindClass)

	// Imports attached to every span.
	assert.Contains(t, spans[0].Imports, "os")
	assert.Contains(t, spans[0].Imports, "collections")
}

func TestSpanHashStableAcrossLineMoves(t *testing.T) {
	fn := "def foo():\n    return 1\n"
	a := split(t, "util.py", fn)
	b := split(t, "utils/helpers.py", "\n\n\n"+fn)

	hashOf := func(spans []*Span) string {
		for _, sp := range spans {
			if sp.Symbol == "foo" {
				return sp.SpanHash
			}
		}
		return ""
	}
	ha, hb := hashOf(a), hashOf(b)
	require.NotEmpty(t, ha)
	assert.Equal(t, ha, hb, "span hash must survive line-number moves and renames")
}

func TestSpanHashChangesWithBody(t *testing.T) {
	a := split(t, "u.py", "def foo():\n    return 1\n")
	b := split(t, "u.py", "def foo():\n    return 2\n")
	assert.NotEqual(t, a[0].SpanHash, b[0].SpanHash)
}

func TestTrailingWhitespaceDoesNotChangeHash(t *testing.T) {
	assert.Equal(t,
		HashSpan("python", "foo", KindFunction, "def foo():\n    return 1"),
		HashSpan("python", "foo", KindFunction, "def foo():   \n    return 1\n\n"))
}

func TestTypeScriptSymbols(t *testing.T) {
	src := `import { thing } from "./thing";

export function handler(req: Request): Response {
  return new Response("ok");
}

export class Store {
  get(key: string) { return this.m[key]; }
}
`
	spans := split(t, "src/server.ts", src)
	assertPartition(t, spans, 9)

	var symbols []string
	for _, sp := range spans {
		symbols = append(symbols, sp.Symbol)
	}
	assert.Contains(t, symbols, "handler")
	assert.Contains(t, symbols, "Store")
	assert.Contains(t, spans[0].Imports, "./thing")
}

func TestUnknownLanguageWholeFile(t *testing.T) {
	spans := split(t, "Makefile", "all:\n\techo hi\n")
	require.Len(t, spans, 1)
	assert.Equal(t, KindBlock, spans[0].Kind)
	assert.False(t, spans[0].ParseDegraded)
	assertPartition(t, spans, 2)
}

func TestEmptyFile(t *testing.T) {
	spans := split(t, "empty.py", "")
	require.Len(t, spans, 1)
	assert.Equal(t, 1, spans[0].StartLine)
	assert.Equal(t, 1, spans[0].EndLine)
}

func TestMarkdownSections(t *testing.T) {
	src := `intro paragraph

# Guide

some text

## Install

install steps

## Usage

usage text
`
	spans := split(t, "README.md", src)
	assertPartition(t, spans, 13)

	var paths []string
	for _, sp := range spans {
		assert.Equal(t, KindDocSection, sp.Kind)
		paths = append(paths, sp.Symbol)
	}
	assert.Contains(t, paths, "") // preamble
	assert.Contains(t, paths, "Guide")
	assert.Contains(t, paths, "Guide > Install")
	assert.Contains(t, paths, "Guide > Usage")
}

func TestMarkdownSpillOver(t *testing.T) {
	para := strings.Repeat("word ", 200) // ~1000 chars
	src := "# Big\n\n" + para + "\n\n" + para + "\n\n" + para + "\n\n" + para + "\n"

	spans := split(t, "big.md", src)
	require.Greater(t, len(spans), 1, "oversized section must spill over")
	for _, sp := range spans {
		assert.Equal(t, "Big", sp.Symbol)
		assert.LessOrEqual(t, len(sp.Text), MaxDocChunkChars+1100,
			"chunks stay near the ceiling (a single paragraph may exceed it)")
	}
	assertPartition(t, spans, strings.Count(src, "\n"))
}

func TestMarkdownHeadingInCodeFenceIgnored(t *testing.T) {
	src := "# Real\n\n```\n# not a heading\n```\n"
	spans := split(t, "doc.md", src)
	require.Len(t, spans, 1)
	assert.Equal(t, "Real", spans[0].Symbol)
}
