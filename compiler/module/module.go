// Package module resolves `use path::{names};` / `use path as alias;`
// import declarations in the source path form (spec.md §9 "Module
// resolution in the source path"). The shared parser only skips `use`
// lines (compiler/parser.skipUseStmt) since it has no cross-file view;
// this package re-scans a root file's raw text for those declarations,
// loads and parses the referenced files, and merges their exported (`pub`)
// functions into the root's linked IR as ordinary bytecode-defined
// functions rather than host imports — spec.md §4.2's "Imports from the
// RustScript root inline the callee bodies (no host imports emitted)".
//
// Relative paths resolve against the importing file's directory; an
// in-flight set breaks cycles (spec.md §9). A bounded LRU
// (github.com/hashicorp/golang-lru/v2, the exact cache geth itself uses
// for trie/bytecode caches in this pack's ProbeChain-go-probe) caches
// parsed modules by resolved path so a large program tree that imports the
// same file from several places only parses it once.
//
// Limitation: only the root file's own `use` declarations are merged.
// A function pulled in from another module that itself contains `use`
// imports has those inner imports left unresolved — its unresolved calls
// simply remain host imports, matching how an entirely standalone file
// would compile, rather than a hard failure.
package module

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"edgevm/bytecode"
	"edgevm/compiler/frontends"
	"edgevm/compiler/ir"
	"edgevm/compiler/parser"
)

// useRe matches the three `use` forms spec.md §4.2 describes:
// `use path::{a, b};`, `use path::{a as c};` (alias ignored, plain name
// used per the flattened-call-site convention), and `use path as alias;`.
var useRe = regexp.MustCompile(`(?m)^\s*use\s+([\w./\-]+)\s*(?:::\s*\{([^}]*)\}|\s+as\s+(\w+))?\s*;`)

type useDecl struct {
	path  string
	names []string // selective import list; nil for namespace form
}

func parseUseDecls(source string) []useDecl {
	var out []useDecl
	for _, m := range useRe.FindAllStringSubmatch(source, -1) {
		d := useDecl{path: m[1]}
		if m[2] != "" {
			for _, n := range strings.Split(m[2], ",") {
				n = strings.TrimSpace(n)
				if idx := strings.Index(n, " as "); idx >= 0 {
					n = strings.TrimSpace(n[:idx])
				}
				if n != "" {
					d.names = append(d.names, n)
				}
			}
		}
		// m[3] (namespace alias) needs no separate handling: the
		// frontend's own alias-table rewrite already flattened
		// `alias.member(...)` to a plain unqualified call by the time
		// the parser sees the text, so a namespace import and a
		// selective import of every `pub` name are handled identically
		// here — names stays nil, meaning "import every exported name".
		out = append(out, d)
	}
	return out
}

var extFlavors = map[string]frontends.Flavor{
	".rss": frontends.RustScript,
	".js":  frontends.JavaScript,
	".lua": frontends.Lua,
	".scm": frontends.Scheme,
}

func resolveModulePath(fromDir, path string) (string, error) {
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(fromDir, candidate)
	}
	if _, ok := extFlavors[filepath.Ext(candidate)]; ok {
		return candidate, nil
	}
	for ext := range extFlavors {
		if _, err := os.Stat(candidate + ext); err == nil {
			return candidate + ext, nil
		}
	}
	return "", fmt.Errorf("module: cannot resolve import path %q from %q", path, fromDir)
}

type parsedModule struct {
	fir     *ir.FrontendIR
	rawText string
}

// Resolver loads and parses source-path modules, deduplicating by resolved
// path through a bounded LRU and breaking `use` cycles.
type Resolver struct {
	cache    *lru.Cache[string, *parsedModule]
	inFlight map[string]bool
}

// NewResolver returns a Resolver backed by an LRU of the given capacity.
func NewResolver(cacheSize int) *Resolver {
	if cacheSize <= 0 {
		cacheSize = 64
	}
	c, _ := lru.New[string, *parsedModule](cacheSize)
	return &Resolver{cache: c, inFlight: map[string]bool{}}
}

// Load parses rootPath, resolves its `use` declarations, and returns the
// merged, emit-ready LinkedIR.
func (r *Resolver) Load(rootPath string) (*ir.LinkedIR, error) {
	abs, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, err
	}
	root, err := r.parseFile(abs)
	if err != nil {
		return nil, err
	}
	return r.link(abs, root)
}

func (r *Resolver) parseFile(abs string) (*parsedModule, error) {
	if m, ok := r.cache.Get(abs); ok {
		return m, nil
	}
	if r.inFlight[abs] {
		return nil, fmt.Errorf("module: import cycle detected at %s", abs)
	}
	r.inFlight[abs] = true
	defer delete(r.inFlight, abs)

	text, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("module: reading %s: %w", abs, err)
	}
	flavor, ok := extFlavors[filepath.Ext(abs)]
	if !ok {
		return nil, fmt.Errorf("module: unrecognized source extension in %q", abs)
	}
	lowered, err := frontends.Lower(flavor, string(text))
	if err != nil {
		return nil, fmt.Errorf("module: lowering %s: %w", abs, err)
	}
	fir, err := parser.Parse(lowered.Text)
	if err != nil {
		return nil, fmt.Errorf("module: parsing %s: %w", abs, err)
	}
	m := &parsedModule{fir: fir, rawText: string(text)}
	r.cache.Add(abs, m)
	return m, nil
}

// importedFunc is one function pulled in from another module, still
// carrying its origin file's own host-import table so its body's call
// sites can be remapped into the merged program.
type importedFunc struct {
	decl     ir.FunctionDecl
	impl     ir.FunctionImpl
	imports  []ir.HostImportRef
}

func (r *Resolver) link(rootAbs string, root *parsedModule) (*ir.LinkedIR, error) {
	rootDir := filepath.Dir(rootAbs)
	decls := parseUseDecls(root.rawText)

	var imported []importedFunc
	seen := map[string]bool{}
	for _, u := range decls {
		target, err := resolveModulePath(rootDir, u.path)
		if err != nil {
			return nil, err
		}
		mod, err := r.parseFile(target)
		if err != nil {
			return nil, err
		}
		names := u.names
		if names == nil {
			for _, fn := range mod.fir.Functions {
				if fn.Exported {
					names = append(names, fn.Name)
				}
			}
		}
		for _, name := range names {
			if seen[name] {
				continue
			}
			decl, ok := findFunc(mod.fir.Functions, name)
			if !ok {
				return nil, fmt.Errorf("module: %q does not export a function named %q", target, name)
			}
			if !decl.Exported {
				return nil, fmt.Errorf("module: %q is private in %q and cannot be imported", name, target)
			}
			impl := mod.fir.FunctionImpls[decl.Index]
			seen[name] = true
			imported = append(imported, importedFunc{decl: decl, impl: impl, imports: mod.fir.HostImports})
		}
	}

	if len(imported) == 0 {
		return &ir.LinkedIR{
			Source:        root.rawText,
			Stmts:         root.fir.Stmts,
			Tail:          root.fir.Tail,
			Locals:        root.fir.Locals,
			LocalBindings: root.fir.LocalBindings,
			Functions:     root.fir.Functions,
			FunctionImpls: root.fir.FunctionImpls,
			HostImports:   root.fir.HostImports,
		}, nil
	}

	return mergeImports(root, imported)
}

func findFunc(decls []ir.FunctionDecl, name string) (ir.FunctionDecl, bool) {
	for _, d := range decls {
		if d.Name == name {
			return d, true
		}
	}
	return ir.FunctionDecl{}, false
}

// mergeImports rewrites root's host-import call sites that name an
// imported function into calls against a freshly assigned function index,
// folds the imported bodies (and their own host imports) into the merged
// program, and compacts the remaining genuine host imports back to a dense
// 0..N-1 range.
func mergeImports(root *parsedModule, imported []importedFunc) (*ir.LinkedIR, error) {
	fir := root.fir
	nextFuncIndex := bytecode.FunctionBase
	for _, fn := range fir.Functions {
		if fn.Index >= nextFuncIndex {
			nextFuncIndex = fn.Index + 1
		}
	}

	callRemap := map[uint16]uint16{} // old root host-import index -> new resolved index
	mergedFuncs := append([]ir.FunctionDecl{}, fir.Functions...)
	mergedImpls := map[uint16]ir.FunctionImpl{}
	for k, v := range fir.FunctionImpls {
		mergedImpls[k] = v
	}

	// combinedImports starts with root's imports and gains each imported
	// function's own unresolved calls, deduped by (name, arity).
	combinedImports := append([]ir.HostImportRef{}, fir.HostImports...)
	importPos := map[string]uint16{}
	for i, ref := range combinedImports {
		importPos[importKey(ref)] = uint16(i)
	}
	consumed := map[uint16]bool{}

	for _, im := range imported {
		newIndex := nextFuncIndex
		nextFuncIndex++

		if pos, ok := findImportPos(fir.HostImports, im.decl.Name); ok {
			callRemap[pos] = newIndex
			consumed[pos] = true
		}

		// Remap the imported body's own call sites: its internal
		// host-import indices (0..len(im.imports)-1 in its origin file)
		// must point at the combined table instead.
		innerRemap := map[uint16]uint16{}
		for i, ref := range im.imports {
			key := importKey(ref)
			pos, ok := importPos[key]
			if !ok {
				pos = uint16(len(combinedImports))
				combinedImports = append(combinedImports, ref)
				importPos[key] = pos
			}
			innerRemap[uint16(i)] = pos
		}
		body := im.impl
		body.BodyStmts = cloneStmts(body.BodyStmts)
		bodyExpr := cloneExpr(body.BodyExpr)
		body.BodyExpr = bodyExpr
		remapCallsStmts(body.BodyStmts, innerRemap, nil)
		remapCallsExpr(&body.BodyExpr, innerRemap, nil)

		decl := im.decl
		decl.Index = newIndex
		mergedFuncs = append(mergedFuncs, decl)
		mergedImpls[newIndex] = body
	}

	// Compact combinedImports: drop consumed root positions, keep
	// appended imported-function imports, and build the final remap.
	finalImports := make([]ir.HostImportRef, 0, len(combinedImports))
	finalRemap := map[uint16]uint16{}
	for i, ref := range combinedImports {
		old := uint16(i)
		if i < len(fir.HostImports) && consumed[old] {
			continue
		}
		finalRemap[old] = uint16(len(finalImports))
		finalImports = append(finalImports, ref)
	}
	// Compose: root call sites first resolve via callRemap (to a function
	// index) or else pass through to finalRemap (still a host import).
	composed := func(old uint16) (uint16, bool) {
		if fn, ok := callRemap[old]; ok {
			return fn, true
		}
		if pos, ok := finalRemap[old]; ok {
			return pos, true
		}
		return old, false
	}

	hostImportRange := len(fir.HostImports)
	limited := composedLimited(composed, hostImportRange)
	stmts := cloneStmts(fir.Stmts)
	tail := cloneExpr(fir.Tail)
	remapCallsStmts(stmts, nil, limited)
	remapCallsExpr(&tail, nil, limited)
	for idx := range fir.FunctionImpls {
		// Root-declared function bodies (not the freshly merged imported
		// ones, already remapped through their own innerRemap above)
		// reference the same original host-import range.
		b := mergedImpls[idx]
		b.BodyStmts = cloneStmts(b.BodyStmts)
		b.BodyExpr = cloneExpr(b.BodyExpr)
		remapCallsStmts(b.BodyStmts, nil, limited)
		remapCallsExpr(&b.BodyExpr, nil, limited)
		mergedImpls[idx] = b
	}

	return &ir.LinkedIR{
		Source:        root.rawText,
		Stmts:         stmts,
		Tail:          tail,
		Locals:        fir.Locals,
		LocalBindings: fir.LocalBindings,
		Functions:     mergedFuncs,
		FunctionImpls: mergedImpls,
		HostImports:   finalImports,
	}, nil
}

func importKey(ref ir.HostImportRef) string { return fmt.Sprintf("%s/%d", ref.Name, ref.Arity) }

func findImportPos(imports []ir.HostImportRef, name string) (uint16, bool) {
	for i, ref := range imports {
		if ref.Name == name {
			return uint16(i), true
		}
	}
	return 0, false
}

// composedLimited adapts a (old)->(new,ok) resolver that only knows about
// indices in [0,limit) into the generic remap function signature used by
// remapCallsExpr/remapCallsStmts (which also sees function/builtin-range
// call indices that must pass through unchanged).
func composedLimited(f func(uint16) (uint16, bool), limit int) func(uint16) (uint16, bool) {
	return func(old uint16) (uint16, bool) {
		if int(old) >= limit {
			return old, false
		}
		return f(old)
	}
}

// remapCallsExpr walks ex in place, rewriting ExprCall.CallIndex through
// whichever of remap/fallback is non-nil (exactly one is passed by every
// caller above).
func remapCallsExpr(ex *ir.Expr, remap map[uint16]uint16, fallback func(uint16) (uint16, bool)) {
	if ex == nil {
		return
	}
	apply := func(idx uint16) uint16 {
		if remap != nil {
			if v, ok := remap[idx]; ok {
				return v
			}
			return idx
		}
		if fallback != nil {
			if v, ok := fallback(idx); ok {
				return v
			}
		}
		return idx
	}
	switch ex.Kind {
	case ir.ExprCall:
		ex.CallIndex = apply(ex.CallIndex)
		for i := range ex.Args {
			remapCallsExpr(&ex.Args[i], remap, fallback)
		}
	case ir.ExprClosureCall:
		for i := range ex.Args {
			remapCallsExpr(&ex.Args[i], remap, fallback)
		}
		remapCallsExpr(&ex.Closure.Body, remap, fallback)
	case ir.ExprAdd, ir.ExprSub, ir.ExprMul, ir.ExprDiv, ir.ExprMod,
		ir.ExprAnd, ir.ExprOr, ir.ExprEq, ir.ExprLt, ir.ExprGt, ir.ExprShl, ir.ExprShr:
		remapCallsExpr(ex.Left, remap, fallback)
		remapCallsExpr(ex.Right, remap, fallback)
	case ir.ExprNeg, ir.ExprNot:
		remapCallsExpr(ex.Operand, remap, fallback)
	case ir.ExprIfElse:
		remapCallsExpr(ex.Condition, remap, fallback)
		remapCallsExpr(ex.Then, remap, fallback)
		remapCallsExpr(ex.Else, remap, fallback)
	case ir.ExprMatch:
		remapCallsExpr(ex.MatchValue, remap, fallback)
		for i := range ex.Arms {
			remapCallsExpr(&ex.Arms[i].Result, remap, fallback)
		}
		remapCallsExpr(ex.Default, remap, fallback)
	case ir.ExprBlock:
		remapCallsStmts(ex.Stmts, remap, fallback)
		remapCallsExpr(ex.BlockExpr, remap, fallback)
	}
}

func remapCallsStmts(stmts []ir.Stmt, remap map[uint16]uint16, fallback func(uint16) (uint16, bool)) {
	for i := range stmts {
		remapCallsStmt(&stmts[i], remap, fallback)
	}
}

func remapCallsStmt(s *ir.Stmt, remap map[uint16]uint16, fallback func(uint16) (uint16, bool)) {
	switch s.Kind {
	case ir.StmtLet, ir.StmtAssign, ir.StmtExpr:
		remapCallsExpr(s.Expr, remap, fallback)
	case ir.StmtClosureLet:
		remapCallsExpr(&s.Closure.Body, remap, fallback)
	case ir.StmtIfElse:
		remapCallsExpr(s.Condition, remap, fallback)
		remapCallsStmts(s.ThenBranch, remap, fallback)
		remapCallsStmts(s.ElseBranch, remap, fallback)
	case ir.StmtFor:
		remapCallsStmt(s.Init, remap, fallback)
		remapCallsExpr(s.Condition, remap, fallback)
		remapCallsStmt(s.Post, remap, fallback)
		remapCallsStmts(s.Body, remap, fallback)
	case ir.StmtWhile:
		remapCallsExpr(s.Condition, remap, fallback)
		remapCallsStmts(s.Body, remap, fallback)
	}
}

// --- deep copies so merging never mutates a cached parsedModule shared
// across multiple root programs ---

func cloneExpr(e ir.Expr) ir.Expr {
	out := e
	if e.Left != nil {
		l := cloneExpr(*e.Left)
		out.Left = &l
	}
	if e.Right != nil {
		r := cloneExpr(*e.Right)
		out.Right = &r
	}
	if e.Operand != nil {
		o := cloneExpr(*e.Operand)
		out.Operand = &o
	}
	if e.Condition != nil {
		c := cloneExpr(*e.Condition)
		out.Condition = &c
	}
	if e.Then != nil {
		t := cloneExpr(*e.Then)
		out.Then = &t
	}
	if e.Else != nil {
		el := cloneExpr(*e.Else)
		out.Else = &el
	}
	if e.MatchValue != nil {
		mv := cloneExpr(*e.MatchValue)
		out.MatchValue = &mv
	}
	if e.Default != nil {
		d := cloneExpr(*e.Default)
		out.Default = &d
	}
	if e.BlockExpr != nil {
		b := cloneExpr(*e.BlockExpr)
		out.BlockExpr = &b
	}
	if e.Args != nil {
		out.Args = make([]ir.Expr, len(e.Args))
		for i, a := range e.Args {
			out.Args[i] = cloneExpr(a)
		}
	}
	if e.Arms != nil {
		out.Arms = make([]ir.MatchArm, len(e.Arms))
		for i, a := range e.Arms {
			a.Result = cloneExpr(a.Result)
			out.Arms[i] = a
		}
	}
	if e.Closure != nil {
		c := *e.Closure
		c.Body = cloneExpr(e.Closure.Body)
		out.Closure = &c
	}
	return out
}

func cloneStmts(stmts []ir.Stmt) []ir.Stmt {
	if stmts == nil {
		return nil
	}
	out := make([]ir.Stmt, len(stmts))
	for i, s := range stmts {
		out[i] = cloneStmt(s)
	}
	return out
}

func cloneStmt(s ir.Stmt) ir.Stmt {
	out := s
	if s.Expr != nil {
		e := cloneExpr(*s.Expr)
		out.Expr = &e
	}
	if s.Closure != nil {
		c := *s.Closure
		c.Body = cloneExpr(s.Closure.Body)
		out.Closure = &c
	}
	if s.Condition != nil {
		c := cloneExpr(*s.Condition)
		out.Condition = &c
	}
	out.ThenBranch = cloneStmts(s.ThenBranch)
	out.ElseBranch = cloneStmts(s.ElseBranch)
	out.Body = cloneStmts(s.Body)
	if s.Init != nil {
		i := cloneStmt(*s.Init)
		out.Init = &i
	}
	if s.Post != nil {
		p := cloneStmt(*s.Post)
		out.Post = &p
	}
	return out
}
