package consent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idp-org/idp-go/pkg/document"
	"github.com/idp-org/idp-go/pkg/verdict"
)

var (
	evalNow   = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	recruiter = "idp:key:sha256:recruiter"
)

func grantDoc() *document.Document {
	return &document.Document{
		Identity: document.IdentityBlock{ID: "idp:key:sha256:holder"},
		Core:     document.CoreBlock{Name: "Alice", Bio: "Rust developer"},
		System: document.SystemBlock{
			PublicKeys: []document.PublicKeyRecord{
				{KeyID: "root-key-01", Algorithm: "Ed25519", Value: "QUJD", Status: document.KeyStatusActive},
			},
		},
		Credentials: []document.Credential{
			{Claim: "skill:rust:expert", IssuedBy: "self", IssuedAt: evalNow, ProofRef: "proof-1"},
			{Claim: "skill:go:novice", IssuedBy: "self", IssuedAt: evalNow, ProofRef: "proof-2"},
		},
	}
}

func nameGrant() document.ConsentGrant {
	return document.ConsentGrant{
		GrantedTo: recruiter,
		Fields:    []string{"core.name"},
		ExpiresAt: evalNow.Add(24 * time.Hour),
		Purpose:   "job application",
	}
}

func TestParseSelector(t *testing.T) {
	t.Run("dotted path", func(t *testing.T) {
		sel, err := ParseSelector("core.name")
		require.NoError(t, err)
		assert.Equal(t, KindPath, sel.Kind)
		assert.Equal(t, []string{"core", "name"}, sel.Path)
	})

	t.Run("single segment", func(t *testing.T) {
		sel, err := ParseSelector("reputation")
		require.NoError(t, err)
		assert.Equal(t, KindPath, sel.Kind)
		assert.Equal(t, []string{"reputation"}, sel.Path)
	})

	t.Run("predicate filter", func(t *testing.T) {
		sel, err := ParseSelector("credentials.[claim=skill:rust:expert]")
		require.NoError(t, err)
		assert.Equal(t, KindFilter, sel.Kind)
		assert.Equal(t, []string{"credentials"}, sel.Path)
		assert.Equal(t, "claim", sel.Attr)
		assert.Equal(t, "skill:rust:expert", sel.Value)
	})

	t.Run("filter on nested collection", func(t *testing.T) {
		sel, err := ParseSelector("system.public_keys.[algorithm=Ed25519]")
		require.NoError(t, err)
		assert.Equal(t, KindFilter, sel.Kind)
		assert.Equal(t, []string{"system", "public_keys"}, sel.Path)
	})

	t.Run("value may contain dots", func(t *testing.T) {
		sel, err := ParseSelector("credentials.[issued_by=idp:key:sha256:x.y]")
		require.NoError(t, err)
		assert.Equal(t, "idp:key:sha256:x.y", sel.Value)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, raw := range []string{"", "  ", "core..name", "core.name!", ".[claim=x]", "credentials.[=x]", "9core"} {
			_, err := ParseSelector(raw)
			assert.Error(t, err, "selector %q", raw)
		}
	})
}

func TestValidateGrant(t *testing.T) {
	g := nameGrant()
	assert.Empty(t, ValidateGrant(&g))

	empty := document.ConsentGrant{}
	vs := ValidateGrant(&empty)
	assert.Len(t, vs, 3)

	bad := nameGrant()
	bad.Fields = []string{"core.name", "not a selector"}
	vs = ValidateGrant(&bad)
	require.Len(t, vs, 1)
	assert.Equal(t, "fields[1]", vs[0].Path)
}

func TestLintDocument(t *testing.T) {
	doc := grantDoc()
	good := nameGrant()
	bad := nameGrant()
	bad.Fields = []string{"!!"}
	doc.Consent = []document.ConsentGrant{good, bad}

	vs := LintDocument(doc)
	require.Len(t, vs, 1)
	assert.Equal(t, "$.consent[1].fields[0]", vs[0].Path)
}

func TestEvaluateNotGrantee(t *testing.T) {
	doc := grantDoc()
	g := nameGrant()

	disc, v := Evaluate(doc, &g, "idp:key:sha256:stranger", evalNow)
	require.False(t, v.Valid)
	assert.Nil(t, disc)
	assert.Equal(t, verdict.ReasonNotGrantee, v.Reason)
	assert.NotContains(t, v.Detail, recruiter, "a denial must not leak who the grantee is")
}

func TestEvaluateExpiry(t *testing.T) {
	doc := grantDoc()

	t.Run("expired grant denies the grantee", func(t *testing.T) {
		g := nameGrant()
		g.ExpiresAt = evalNow.Add(-time.Minute)
		disc, v := Evaluate(doc, &g, recruiter, evalNow)
		require.False(t, v.Valid)
		assert.Nil(t, disc)
		assert.Equal(t, verdict.ReasonConsentExpired, v.Reason)
		assert.Equal(t, verdict.ClassTemporal, v.Class())
	})

	t.Run("grantee check runs before expiry", func(t *testing.T) {
		g := nameGrant()
		g.ExpiresAt = evalNow.Add(-time.Minute)
		_, v := Evaluate(doc, &g, "idp:key:sha256:stranger", evalNow)
		assert.Equal(t, verdict.ReasonNotGrantee, v.Reason)
	})

	t.Run("valid at the expiry instant", func(t *testing.T) {
		g := nameGrant()
		g.ExpiresAt = evalNow
		_, v := Evaluate(doc, &g, recruiter, evalNow)
		assert.True(t, v.Valid, "verdict: %s", v)
	})
}

func TestEvaluateScopedProjection(t *testing.T) {
	doc := grantDoc()
	g := nameGrant()

	disc, v := Evaluate(doc, &g, recruiter, evalNow)
	require.True(t, v.Valid, "verdict: %s", v)
	require.NotNil(t, disc)

	assert.Equal(t, []string{"core.name"}, disc.Matched)
	require.Len(t, disc.Projection, 1, "nothing outside the grant may appear")

	core, ok := disc.Projection["core"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", core["name"])
	_, hasBio := core["bio"]
	assert.False(t, hasBio, "bio was not granted")
}

func TestEvaluatePredicateFilter(t *testing.T) {
	doc := grantDoc()
	g := nameGrant()
	g.Fields = []string{"credentials.[claim=skill:rust:expert]"}

	disc, v := Evaluate(doc, &g, recruiter, evalNow)
	require.True(t, v.Valid)

	creds, ok := disc.Projection["credentials"].([]any)
	require.True(t, ok)
	require.Len(t, creds, 1)
	first := creds[0].(map[string]any)
	assert.Equal(t, "skill:rust:expert", first["claim"])
}

func TestEvaluateUnmatchedContributesNothing(t *testing.T) {
	doc := grantDoc()
	g := nameGrant()
	g.Fields = []string{
		"core.nickname",
		"credentials.[claim=skill:cobol:expert]",
		"!! not a selector !!",
		"core.name",
	}

	disc, v := Evaluate(doc, &g, recruiter, evalNow)
	require.True(t, v.Valid)
	assert.Equal(t, []string{"core.name"}, disc.Matched)
	assert.Len(t, disc.Projection, 1)
}

func TestEvaluateUnionOfOverlappingSelectors(t *testing.T) {
	doc := grantDoc()

	for _, fields := range [][]string{
		{"credentials.[claim=skill:rust:expert]", "credentials"},
		{"credentials", "credentials.[claim=skill:rust:expert]"},
	} {
		g := nameGrant()
		g.Fields = fields

		disc, v := Evaluate(doc, &g, recruiter, evalNow)
		require.True(t, v.Valid)
		creds, ok := disc.Projection["credentials"].([]any)
		require.True(t, ok)
		assert.Len(t, creds, 2, "union of overlapping selectors must not duplicate")
	}
}

func TestEvaluateSubtreeAndScalar(t *testing.T) {
	doc := grantDoc()
	g := nameGrant()
	g.Fields = []string{"system.public_keys", "identity.id"}

	disc, v := Evaluate(doc, &g, recruiter, evalNow)
	require.True(t, v.Valid)
	assert.Len(t, disc.Matched, 2)

	system, ok := disc.Projection["system"].(map[string]any)
	require.True(t, ok)
	keys, ok := system["public_keys"].([]any)
	require.True(t, ok)
	assert.Len(t, keys, 1)

	identity, ok := disc.Projection["identity"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "idp:key:sha256:holder", identity["id"])
}
