package abi

import (
	"encoding/json"
)

// manifestEntry is abi.json's per-entry shape; field names match spec.md
// §6's registry entry shape exactly so an out-of-process consumer can parse
// the manifest without a side channel.
type manifestEntry struct {
	Index uint16 `json:"index"`
	Name  string `json:"name"`
	Arity uint8  `json:"arity"`
}

// manifest is abi.json's top-level document.
type manifest struct {
	Edge   []manifestEntry `json:"edge"`
	Legacy []manifestEntry `json:"legacy"`
}

func toManifestEntries(reg []Entry) []manifestEntry {
	out := make([]manifestEntry, len(reg))
	for i, e := range reg {
		out[i] = manifestEntry{Index: e.Index, Name: e.Name, Arity: e.Arity}
	}
	return out
}

// Manifest renders both registries as the abi.json document spec.md §6
// describes ("a manifest document (abi.json) of the same shape accompanies
// the registry for out-of-process consumers").
func Manifest() ([]byte, error) {
	doc := manifest{
		Edge:   toManifestEntries(RegistryEdge),
		Legacy: toManifestEntries(RegistryLegacy),
	}
	return json.MarshalIndent(doc, "", "  ")
}
