package linker

import (
	"reflect"
	"testing"
)

func TestDirectiveQuotedValue(t *testing.T) {
	libs := ParseDirectiveLibraries([]byte(` /DEFAULTLIB:"user32.lib" `))
	if !reflect.DeepEqual(libs, []string{"user32.lib"}) {
		t.Fatalf("got %v", libs)
	}
}

func TestDirectiveUnquotedValue(t *testing.T) {
	libs := ParseDirectiveLibraries([]byte("-defaultlib:kernel32.lib"))
	if !reflect.DeepEqual(libs, []string{"kernel32.lib"}) {
		t.Fatalf("got %v", libs)
	}
}

func TestDirectiveMixedFlags(t *testing.T) {
	contents := []byte(` /EXPORT:go /DEFAULTLIB:"ws2_32.lib" -Brepro ` +
		"/defaultlib:advapi32.lib\x00\x00")
	libs := ParseDirectiveLibraries(contents)
	want := []string{"ws2_32.lib", "advapi32.lib"}
	if !reflect.DeepEqual(libs, want) {
		t.Fatalf("got %v, want %v", libs, want)
	}
}

func TestDirectiveBomAndGarbage(t *testing.T) {
	contents := append([]byte{0xef, 0xbb, 0xbf}, " stray /DEFAULTLIB:m.lib"...)
	libs := ParseDirectiveLibraries(contents)
	if !reflect.DeepEqual(libs, []string{"m.lib"}) {
		t.Fatalf("got %v", libs)
	}
}
