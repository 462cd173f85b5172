package fmd

import "github.com/k0kubun/pp"

// dumpReport renders a replay pass for a human: every accepted record
// when dump was requested, and — in fsck mode — the runtime, total
// record count, and per-class error counts (spec.md §4.4).
func dumpReport(report ReplayReport, fsckSummary bool) {
	for _, rec := range report.Records {
		pp.Println(rec)
	}
	if fsckSummary {
		pp.Println(report)
	}
}
