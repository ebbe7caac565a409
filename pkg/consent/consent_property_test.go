//go:build property
// +build property

package consent_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/idp-org/idp-go/pkg/consent"
	"github.com/idp-org/idp-go/pkg/document"
)

func TestDisclosureScoping(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	recruiter := "idp:key:sha256:recruiter"
	doc := &document.Document{
		Identity: document.IdentityBlock{ID: "idp:key:sha256:holder"},
		Core:     document.CoreBlock{Name: "Alice", Bio: "Rust developer"},
		Credentials: []document.Credential{
			{Claim: "skill:rust:expert", IssuedBy: "self", IssuedAt: now, ProofRef: "proof-1"},
			{Claim: "skill:go:novice", IssuedBy: "self", IssuedAt: now, ProofRef: "proof-2"},
		},
	}
	pool := []string{
		"core.name",
		"core.bio",
		"core",
		"identity.id",
		"credentials",
		"credentials.[claim=skill:rust:expert]",
	}

	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 300
	properties := gopter.NewProperties(params)

	properties.Property("projection never contains unselected data", prop.ForAll(
		func(picks []int) bool {
			selected := map[string]bool{}
			var fields []string
			for _, p := range picks {
				f := pool[p%len(pool)]
				if !selected[f] {
					selected[f] = true
					fields = append(fields, f)
				}
			}
			grant := document.ConsentGrant{
				GrantedTo: recruiter,
				Fields:    fields,
				ExpiresAt: now.Add(time.Hour),
			}

			disc, v := consent.Evaluate(doc, &grant, recruiter, now)
			if !v.Valid || disc == nil {
				return false
			}
			raw, err := json.Marshal(disc.Projection)
			if err != nil {
				return false
			}
			got := string(raw)

			wantName := selected["core.name"] || selected["core"]
			wantBio := selected["core.bio"] || selected["core"]
			wantRust := selected["credentials"] || selected["credentials.[claim=skill:rust:expert]"]
			wantGo := selected["credentials"]

			return strings.Contains(got, "Alice") == wantName &&
				strings.Contains(got, "Rust developer") == wantBio &&
				strings.Contains(got, "skill:rust:expert") == wantRust &&
				strings.Contains(got, "skill:go:novice") == wantGo
		},
		gen.SliceOf(gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}
