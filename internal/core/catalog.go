package core

// DedupCatalog keeps the first entry seen for each logical key.
func DedupCatalog(entries []CatalogEntry) []CatalogEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]CatalogEntry, 0, len(entries))
	for _, e := range entries {
		e = e.Normalize()
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// SubtractCatalog returns the entries of all whose key is absent from mine.
func SubtractCatalog(all, mine []CatalogEntry) []CatalogEntry {
	have := make(map[string]struct{}, len(mine))
	for _, e := range mine {
		have[e.Normalize().Key()] = struct{}{}
	}
	out := make([]CatalogEntry, 0, len(all))
	for _, e := range all {
		if _, ok := have[e.Normalize().Key()]; ok {
			continue
		}
		out = append(out, e)
	}
	return out
}

// CategoriesOfType filters categories by type; untyped records count as
// expense categories.
func CategoriesOfType(entries []CatalogEntry, typ TransactionType) []CatalogEntry {
	out := make([]CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Kind != KindCategory {
			continue
		}
		if CategoryType(e.Type) == typ {
			out = append(out, e)
		}
	}
	return out
}
