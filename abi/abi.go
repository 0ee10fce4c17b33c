// Package abi declares the host-ABI registries spec.md §6 describes: named,
// fixed-arity callables an embedder provides, referenced from bytecode by a
// dense u16 import index. The registries here hold only declarations — no
// implementations — since the bindings themselves belong to the external
// host context per spec.md §1/§6.
//
// Two registries exist because the system they describe has migrated:
// RegistryLegacy names the proxy-era entries, RegistryEdge the current ones.
// Per spec.md §9's open question ("fix one as canonical and migrate"),
// RegistryEdge is canonical; RegistryLegacy is retained read-only for
// deployments still binding against it.
package abi

// Entry is one host-ABI declaration: a dense index, its name as it appears
// in a program's import table, and its fixed argument count.
type Entry struct {
	Index uint16
	Name  string
	Arity uint8
}

// RegistryEdge is the canonical current host-ABI registry, grounded on
// spec.md §6's example families (http::request::*, http::upstream::request::*,
// http::response::*, http::rate_limit::allow).
var RegistryEdge = []Entry{
	{0, "http::request::get_method", 0},
	{1, "http::request::get_path", 0},
	{2, "http::request::get_query", 0},
	{3, "http::request::get_header", 1},
	{4, "http::request::get_headers", 0},
	{5, "http::request::get_body", 0},
	{6, "http::request::get_remote_addr", 0},

	{7, "http::upstream::request::set_method", 1},
	{8, "http::upstream::request::set_path", 1},
	{9, "http::upstream::request::set_header", 2},
	{10, "http::upstream::request::remove_header", 1},
	{11, "http::upstream::request::set_body", 1},

	{12, "http::response::set_status", 1},
	{13, "http::response::set_header", 2},
	{14, "http::response::set_body", 1},

	{15, "http::rate_limit::allow", 2},

	{16, "log::info", 1},
	{17, "log::warn", 1},
	{18, "log::error", 1},
}

// RegistryLegacy is the proxy-era registry, kept read-only so a deployment
// still emitting import tables against it can be decoded and (where the
// equivalent edge entry exists) bound through EdgeIndexFor.
var RegistryLegacy = []Entry{
	{0, "request.method", 0},
	{1, "request.path", 0},
	{2, "request.header", 1},
	{3, "response.set_status", 1},
	{4, "response.set_header", 2},
	{5, "response.set_body", 1},
	{6, "ratelimit.allow", 2},
}

// ByName looks up an entry by its exact, case-sensitive name within reg.
func ByName(reg []Entry, name string) (Entry, bool) {
	for _, e := range reg {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// ByIndex looks up an entry by its declared index within reg.
func ByIndex(reg []Entry, index uint16) (Entry, bool) {
	for _, e := range reg {
		if e.Index == index {
			return e, true
		}
	}
	return Entry{}, false
}

// legacyToEdge maps the legacy names that survived into the current
// registry under a different index, so a caller migrating a stored program
// can resolve an old import table entry to its edge equivalent.
var legacyToEdge = map[string]string{
	"request.method":      "http::request::get_method",
	"request.path":        "http::request::get_path",
	"request.header":      "http::request::get_header",
	"response.set_status": "http::response::set_status",
	"response.set_header": "http::response::set_header",
	"response.set_body":   "http::response::set_body",
	"ratelimit.allow":     "http::rate_limit::allow",
}

// EdgeIndexFor resolves a legacy entry's current edge-registry equivalent,
// if one exists.
func EdgeIndexFor(legacyName string) (Entry, bool) {
	edgeName, ok := legacyToEdge[legacyName]
	if !ok {
		return Entry{}, false
	}
	return ByName(RegistryEdge, edgeName)
}
