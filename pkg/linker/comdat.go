package linker

// SelectComdats enforces the duplicate rules over every symbol that
// collected more than one definition, keeps one section per COMDAT
// group and drops associative sections whose parent lost.
func SelectComdats(ctx *Context) error {
	for _, name := range ctx.SymbolNames {
		sym := ctx.SymbolMap[name]
		if len(sym.Defs) < 2 {
			continue
		}

		if sym.strongDefs() > 1 {
			return &DuplicateSymbolError{Symbol: name, Sites: defSites(sym)}
		}

		leader := sym.Defs[0]
		if sym.strongDefs() == 1 {
			// a strong definition beats every COMDAT contributor
			for _, def := range sym.Defs {
				if def.Selection == 0 {
					leader = def
				}
			}
			sym.SetDef(leader)
			discardLosers(sym, leader)
			continue
		}

		switch leader.Selection {
		case IMAGE_COMDAT_SELECT_NODUPLICATES:
			return &MultiplyDefinedSymbolError{Symbol: name, Sites: defSites(sym)}

		case IMAGE_COMDAT_SELECT_SAME_SIZE:
			for _, def := range sym.Defs[1:] {
				if def.Isec.Size != leader.Isec.Size {
					return &MultiplyDefinedSymbolError{Symbol: name, Sites: defSites(sym)}
				}
			}

		case IMAGE_COMDAT_SELECT_EXACT_MATCH:
			for _, def := range sym.Defs[1:] {
				if def.Isec.Checksum() != leader.Isec.Checksum() {
					return &MultiplyDefinedSymbolError{Symbol: name, Sites: defSites(sym)}
				}
			}

		case IMAGE_COMDAT_SELECT_LARGEST:
			for _, def := range sym.Defs[1:] {
				if def.Isec.Size > leader.Isec.Size {
					leader = def
				}
			}
		}

		// first definition wins unless Largest picked another
		sym.SetDef(leader)
		discardLosers(sym, leader)
	}

	discardAssociative(ctx)

	// repoint symbols whose chosen definition lost its section
	for _, name := range ctx.SymbolNames {
		sym := ctx.SymbolMap[name]
		if sym.Isec == nil || sym.Isec.IsAlive {
			continue
		}
		if def := sym.LiveDef(); def != nil {
			sym.SetDef(*def)
		} else {
			sym.Isec = nil
			sym.Value = 0
		}
	}
	return nil
}

// discardAssociative drops IMAGE_COMDAT_SELECT_ASSOCIATIVE sections whose
// parent section was discarded, iterating until chains settle.
func discardAssociative(ctx *Context) {
	for changed := true; changed; {
		changed = false
		for _, obj := range ctx.Objs {
			for _, isec := range obj.Sections {
				if !isec.IsAlive || isec.ComdatSelection != IMAGE_COMDAT_SELECT_ASSOCIATIVE {
					continue
				}
				parent := int(isec.AssocIdx) - 1
				if parent < 0 || parent >= len(obj.Sections) ||
					!obj.Sections[parent].IsAlive {
					isec.IsAlive = false
					changed = true
				}
			}
		}
	}
}

// discardLosers drops the COMDAT contributors that were not selected.
func discardLosers(sym *Symbol, leader Definition) {
	for _, def := range sym.Defs {
		if def.Selection != 0 && def.Isec != leader.Isec {
			def.Isec.IsAlive = false
		}
	}
}

func defSites(sym *Symbol) []string {
	sites := make([]string, 0, len(sym.Defs))
	for _, def := range sym.Defs {
		sites = append(sites, def.Isec.File.SourceName())
	}
	return sites
}
