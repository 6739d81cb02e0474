package main

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAssignsPositionalIDs(t *testing.T) {
	code, err := Generate("vm", Stubs)
	require.NoError(t, err)

	src := string(code)
	require.Contains(t, src, "// Code generated by stubgen. DO NOT EDIT.")
	require.Contains(t, src, "package vm")
	require.Regexp(t, regexp.MustCompile(`StubLoadICByName\s+StubID = 0`), src)
	require.Regexp(t, regexp.MustCompile(`StubCollectGarbage\s+StubID = 15`), src)
	require.Regexp(t, regexp.MustCompile(`StubCount\s+= 16`), src)
	require.Regexp(t, regexp.MustCompile(`Name:\s+"TryStoreGlobalICByName"`), src)
}

func TestGenerateRejectsDuplicates(t *testing.T) {
	_, err := Generate("vm", []Stub{
		{"GetPropertyByName", "StubKindFastPath", 2},
		{"GetPropertyByName", "StubKindFastPath", 2},
	})
	require.Error(t, err)
}
