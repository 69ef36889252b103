package pagination

import "testing"

func TestNew_Defaults(t *testing.T) {
	p := New(0, 0)
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestNew_Clamps(t *testing.T) {
	p := New(500, -3)
	if p.Limit != MaxLimit {
		t.Errorf("expected max limit %d, got %d", MaxLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestNew_CustomValues(t *testing.T) {
	p := New(50, 10)
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("expected 50/10, got %d/%d", p.Limit, p.Offset)
	}
}

func TestParams_HasNext(t *testing.T) {
	p := Params{Limit: 20, Offset: 0}
	if !p.HasNext(50) {
		t.Error("expected HasNext true for total 50")
	}
	if p.HasNext(20) {
		t.Error("expected HasNext false when the page ends at total")
	}
	if p.NextOffset() != 20 {
		t.Errorf("expected next offset 20, got %d", p.NextOffset())
	}
}

func TestParams_Summary(t *testing.T) {
	tests := []struct {
		p            Params
		shown, total int
		want         string
	}{
		{Params{Limit: 20, Offset: 20}, 20, 57, "21-40 of 57, next offset 40"},
		{Params{Limit: 20, Offset: 40}, 17, 57, "41-57 of 57"},
		{Params{Limit: 20, Offset: 0}, 0, 0, "0 of 0"},
	}
	for _, tt := range tests {
		if got := tt.p.Summary(tt.shown, tt.total); got != tt.want {
			t.Errorf("Summary(%d, %d) = %q, want %q", tt.shown, tt.total, got, tt.want)
		}
	}
}
