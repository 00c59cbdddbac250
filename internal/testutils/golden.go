package testutils

import (
	"bytes"
	"encoding/json"
	"os"
	"path"

	"github.com/pmezard/go-difflib/difflib"
)

// CheckGoldenFile compares actual against the file at expectFilePath,
// writing the file instead when it does not exist yet. JSON documents are
// compared after reindenting both sides, so key order and spacing of the
// golden file are free.
func CheckGoldenFile(t TestingT, actual []byte, expectFilePath string) {
	t.Helper()

	expect, err := os.ReadFile(expectFilePath)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path.Dir(expectFilePath), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(expectFilePath, actual, 0o444); err != nil {
			t.Fatal(err)
		}
		return
	} else if err != nil {
		t.Error(err)
		return
	}

	AssertSameDocument(t, expect, actual)
}

// AssertSameDocument reports a unified diff when expect and actual differ.
func AssertSameDocument(t TestingT, expect, actual []byte) {
	t.Helper()

	expect, actual = normalizeJSON(expect), normalizeJSON(actual)
	if bytes.Equal(expect, actual) {
		return
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(expect)),
		B:        difflib.SplitLines(string(actual)),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  5,
	}
	d, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		t.Fatal(err)
	}
	t.Error(d)
}

// normalizeJSON returns b reindented with sorted keys, or b itself when it
// is not JSON.
func normalizeJSON(b []byte) []byte {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return b
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return b
	}
	return append(out, '\n')
}
