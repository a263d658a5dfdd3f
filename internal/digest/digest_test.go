package digest

import "testing"

const baseFunc = `package snippet

// Sum adds the values.
func Sum(values []int) int {
	total := 0
	for _, v := range values {
		total += v
	}
	return total
}
`

func mustDigest(t *testing.T, src string) string {
	t.Helper()
	d, err := Source(src)
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	return d
}

func TestStableUnderFormatting(t *testing.T) {
	reformatted := `package snippet

func Sum(values []int) int {
	total := 0

	for _, v := range values {
		total += v
	}

	return total
}
`
	if mustDigest(t, baseFunc) != mustDigest(t, reformatted) {
		t.Fatal("digest changed under reformatting")
	}
}

func TestStableUnderCommentEdits(t *testing.T) {
	commented := `package snippet

// Sum adds the values.
//
// attest:ai_composed copilot
// attest:scrutiny high
func Sum(values []int) int {
	total := 0
	for _, v := range values { // accumulate
		total += v
	}
	return total
}
`
	if mustDigest(t, baseFunc) != mustDigest(t, commented) {
		t.Fatal("digest changed when only comments changed")
	}
}

func TestSensitiveToLiteralChange(t *testing.T) {
	changed := `package snippet

func Sum(values []int) int {
	total := 1
	for _, v := range values {
		total += v
	}
	return total
}
`
	if mustDigest(t, baseFunc) == mustDigest(t, changed) {
		t.Fatal("digest ignored a literal change")
	}
}

func TestSensitiveToIdentifierChange(t *testing.T) {
	renamed := `package snippet

func Sum(values []int) int {
	acc := 0
	for _, v := range values {
		acc += v
	}
	return acc
}
`
	if mustDigest(t, baseFunc) == mustDigest(t, renamed) {
		t.Fatal("digest ignored an identifier rename")
	}
}

func TestSensitiveToOperatorChange(t *testing.T) {
	changed := `package snippet

func Sum(values []int) int {
	total := 0
	for _, v := range values {
		total -= v
	}
	return total
}
`
	if mustDigest(t, baseFunc) == mustDigest(t, changed) {
		t.Fatal("digest ignored an operator change")
	}
}

func TestParseFailure(t *testing.T) {
	if _, err := Source("package snippet\nfunc Broken( {"); err == nil {
		t.Fatal("Source accepted unparsable input")
	}
}

func TestTypeDeclarations(t *testing.T) {
	a := `package snippet

type Config struct {
	Name  string
	Limit int
}
`
	b := `package snippet

type Config struct {
	Name  string
	Limit int64
}
`
	if mustDigest(t, a) == mustDigest(t, b) {
		t.Fatal("digest ignored a struct field type change")
	}
}
