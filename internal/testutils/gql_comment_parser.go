package testutils

import (
	"fmt"
	"regexp"
)

// Test documents carry their fixtures in leading comments:
//
//	# schema: library.graphqls
//	# option:data: library.json
//	# option:variables: fragments.variables.json

var schemaDirective = regexp.MustCompile(`(?m)^# schema:\s*(\S+)$`)

func FindSchemaFileName(t TestingT, source string) string {
	t.Helper()

	ss := schemaDirective.FindStringSubmatch(source)
	if len(ss) != 2 {
		t.Fatal("schema file directive mismatch")
	}

	return ss[1]
}

func FindOptionString(t TestingT, optionName, source string) string {
	t.Helper()

	v, ok := findOption(optionName, source)
	if !ok {
		t.Logf("option %s value is not found", optionName)
	}
	return v
}

func FindOptionBool(t TestingT, optionName, source string) bool {
	t.Helper()

	v, ok := findOption(optionName, source)
	if !ok {
		t.Logf("option %s value is not found", optionName)
	}
	return v == "true"
}

func findOption(optionName, source string) (string, bool) {
	re := regexp.MustCompile(fmt.Sprintf(`(?m)^# option:%s:\s*(\S+)$`, regexp.QuoteMeta(optionName)))
	ss := re.FindStringSubmatch(source)
	if len(ss) != 2 {
		return "", false
	}
	return ss[1], true
}
