package model

import "testing"

func TestClassificationOrdering(t *testing.T) {
	if !(Public < Internal && Internal < Confidential && Confidential < Secret) {
		t.Fatal("classification scale is not ordered public < internal < confidential < secret")
	}
}

func TestClassificationCovers(t *testing.T) {
	tests := []struct {
		clearance Classification
		doc       Classification
		want      bool
	}{
		{Public, Public, true},
		{Public, Internal, false},
		{Internal, Public, true},
		{Internal, Secret, false},
		{Confidential, Confidential, true},
		{Secret, Public, true},
		{Secret, Secret, true},
	}
	for _, tt := range tests {
		if got := tt.clearance.Covers(tt.doc); got != tt.want {
			t.Errorf("%s.Covers(%s) = %v, want %v", tt.clearance, tt.doc, got, tt.want)
		}
	}
}

func TestParseClassificationRoundTrip(t *testing.T) {
	for _, c := range Classifications() {
		got, err := ParseClassification(c.String())
		if err != nil {
			t.Fatalf("ParseClassification(%q) error: %v", c.String(), err)
		}
		if got != c {
			t.Errorf("ParseClassification(%q) = %v, want %v", c.String(), got, c)
		}
	}

	if _, err := ParseClassification("topsecret"); err == nil {
		t.Error("ParseClassification accepted an unknown value")
	}
}

func TestClassificationValid(t *testing.T) {
	if Classification(99).Valid() {
		t.Error("out-of-range classification reported valid")
	}
	for _, c := range Classifications() {
		if !c.Valid() {
			t.Errorf("%s reported invalid", c)
		}
	}
}
