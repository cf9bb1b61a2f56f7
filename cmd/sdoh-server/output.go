package main

import (
	"fmt"
	"io"

	"github.com/ehr/sdoh/internal/domain/resource"
	"github.com/ehr/sdoh/internal/platform/db"
)

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func printVerificationSweep(w io.Writer, stale []*resource.CommunityResource, days int) {
	fmt.Fprintf(w, "%d resource(s) unverified or last verified more than %d days ago\n", len(stale), days)
	if len(stale) == 0 {
		return
	}
	fmt.Fprintf(w, "%-36s %-40s %-16s %s\n", "ID", "NAME", "CATEGORY", "LAST VERIFIED")
	for _, r := range stale {
		verified := "never"
		if r.Verified && r.VerifiedDate != nil {
			verified = r.VerifiedDate.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%-36s %-40s %-16s %s\n", r.ID, truncate(r.Name, 40), r.Category, verified)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
