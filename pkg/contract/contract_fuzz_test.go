package contract

import (
	"errors"
	"reflect"
	"testing"
)

func FuzzCompile(f *testing.F) {
	f.Add("parties[0].reputation.dev_score +5")
	f.Add("parties[0].reputation.dev_score +5; parties[1].reputation.client_score -3;")
	f.Add("")
	f.Add(";;;")
	f.Add("parties[99].reputation.x +1")
	f.Add("parties[0].reputation.dev_score +99999999999999999999")
	f.Add("parties[-1].reputation.a -0")
	f.Add("parties[0].reputation.éclat +1")
	f.Add("parties[0].reputation.a +1;parties[0].reputation.a -1")

	f.Fuzz(func(t *testing.T, expr string) {
		parties := []string{"idp:key:sha256:a", "idp:key:sha256:b"}

		stmts, err := Compile(expr, parties)
		if err != nil {
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("compile error is not a ParseError: %v", err)
			}
			return
		}

		again, err := Compile(expr, parties)
		if err != nil {
			t.Fatalf("second compile of accepted input failed: %v", err)
		}
		if !reflect.DeepEqual(stmts, again) {
			t.Fatalf("compile is not deterministic for %q", expr)
		}

		if len(stmts) > MaxStatements {
			t.Fatalf("accepted %d statements, cap is %d", len(stmts), MaxStatements)
		}
		for _, s := range stmts {
			if s.PartyIndex < 0 || s.PartyIndex >= len(parties) {
				t.Fatalf("accepted out-of-range party index %d", s.PartyIndex)
			}
			if s.PartyID != parties[s.PartyIndex] {
				t.Fatalf("party id %q does not match index %d", s.PartyID, s.PartyIndex)
			}
			if s.Change == 0 {
				t.Fatalf("accepted zero change in %q", expr)
			}
			if s.Score == "" {
				t.Fatalf("accepted empty score name in %q", expr)
			}
		}
	})
}
