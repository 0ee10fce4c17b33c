package jit

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// DumpInfo renders the human-readable report spec.md §4.5 calls
// dump_jit_info(): one line per recording attempt (success/failure with
// reason), one block per installed trace (op count, guard count, whether it
// contains a host call, and the emitted machine code length when a native
// backend populated NativeTrace.CodeLen), and the running counters.
func (e *Engine) DumpInfo() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "jit: %d attempt(s), %d successful, %d native trace(s), %d native execution(s)\n",
		e.stats.Attempts, e.stats.Successes, e.stats.NativeTraces, e.stats.NativeExecutions)

	fmt.Fprintln(&b, "attempts:")
	for _, a := range e.attempts {
		fmt.Fprintf(&b, "  header=%#x ops=%d terminal=%s\n", a.headerPC, a.opCount, a.terminal)
	}

	var headers []int
	for pc := range e.compiled {
		headers = append(headers, pc)
	}
	sort.Ints(headers)

	fmt.Fprintln(&b, "traces:")
	table := tablewriter.NewWriter(&b)
	table.SetHeader([]string{"header", "ops", "guards", "host_call", "side_exits", "code_bytes"})
	for _, pc := range headers {
		ct := e.compiled[pc]
		guards := 0
		for _, op := range ct.Trace.Ops {
			if op.Kind == OpGuard {
				guards++
			}
		}
		codeLen := -1
		if cl, ok := ct.Native.(interface{ CodeLen() int }); ok {
			codeLen = cl.CodeLen()
		}
		table.Append([]string{
			fmt.Sprintf("%#x", pc),
			strconv.Itoa(len(ct.Trace.Ops)),
			strconv.Itoa(guards),
			strconv.FormatBool(ct.Trace.HasHostCall()),
			strconv.Itoa(ct.sideExits),
			strconv.Itoa(codeLen),
		})
	}
	table.Render()
	return b.String()
}
