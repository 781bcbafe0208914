package linker

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed input file.
type ParseError struct {
	File string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("could not parse %s: %s", e.File, e.Msg)
}

// ArchiveMemberError reports a member that could not be read or parsed.
type ArchiveMemberError struct {
	Archive string
	Member  string
	Err     error
}

func (e *ArchiveMemberError) Error() string {
	return fmt.Sprintf("%s(%s): %v", e.Archive, e.Member, e.Err)
}

func (e *ArchiveMemberError) Unwrap() error { return e.Err }

// DuplicateSymbolError reports a symbol with more than one non-COMDAT
// definition, listing every definition site.
type DuplicateSymbolError struct {
	Symbol string
	Sites  []string
}

func (e *DuplicateSymbolError) Error() string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "duplicate symbol: %s", e.Symbol)
	for _, site := range e.Sites {
		fmt.Fprintf(&sb, "\n>>> defined at %s", site)
	}
	return sb.String()
}

// MultiplyDefinedSymbolError reports COMDAT definitions that violate the
// section's selection policy.
type MultiplyDefinedSymbolError struct {
	Symbol string
	Sites  []string
}

func (e *MultiplyDefinedSymbolError) Error() string {
	sb := strings.Builder{}
	fmt.Fprintf(&sb, "multiply defined symbol: %s", e.Symbol)
	for _, site := range e.Sites {
		fmt.Fprintf(&sb, "\n>>> defined at %s", site)
	}
	return sb.String()
}

// UnresolvedSymbol is one undefined name with everything that needs it.
type UnresolvedSymbol struct {
	Symbol string
	Sites  []string
}

// UnresolvedSymbolError batches every symbol left unresolved after all
// archives and the API were consulted.
type UnresolvedSymbolError struct {
	Symbols []UnresolvedSymbol
}

func (e *UnresolvedSymbolError) Error() string {
	sb := strings.Builder{}
	for i, sym := range e.Symbols {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "undefined symbol: %s", sym.Symbol)
		for _, site := range sym.Sites {
			fmt.Fprintf(&sb, "\n>>> referenced by %s", site)
		}
	}
	return sb.String()
}

// RelocationRangeError reports a fully applied PC-relative relocation
// whose displacement does not fit in 32 bits, or an addend overflow.
type RelocationRangeError struct {
	Site   string
	Symbol string
}

func (e *RelocationRangeError) Error() string {
	return fmt.Sprintf("relocation out of range at %s against symbol %s", e.Site, e.Symbol)
}

// DiscardedSectionError reports a relocation against a section that
// COMDAT selection removed without a surviving definition.
type DiscardedSectionError struct {
	Site    string
	Section string
}

func (e *DiscardedSectionError) Error() string {
	return fmt.Sprintf("relocation at %s against discarded section %s", e.Site, e.Section)
}
