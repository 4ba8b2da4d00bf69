package signal

import (
	"encoding/json"
	"testing"
)

func TestToStatus(t *testing.T) {
	tests := []struct {
		in   interface{}
		want Status
	}{
		{true, StatusPass},
		{false, StatusFail},
		{"yes", StatusPass},
		{"TRUE", StatusPass},
		{" Pass ", StatusPass},
		{"no", StatusFail},
		{"False", StatusFail},
		{"FAIL", StatusFail},
		{"warning", StatusCaution},
		{"Caution", StatusCaution},
		{"documented in op note", StatusPass},
		{"", StatusInactive},
		{nil, StatusInactive},
		{float64(3), StatusPass},
		{float64(0), StatusFail},
		{json.Number("1"), StatusPass},
		{json.Number("0"), StatusFail},
		{int64(0), StatusFail},
		{StatusCaution, StatusCaution},
		{[]interface{}{"x"}, StatusInactive},
	}
	for _, tt := range tests {
		if got := ToStatus(tt.in); got != tt.want {
			t.Errorf("ToStatus(%#v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestInvertAndFlag(t *testing.T) {
	if Invert(StatusPass) != StatusFail || Invert(StatusFail) != StatusPass {
		t.Error("Invert should swap pass and fail")
	}
	if Invert(StatusInactive) != StatusInactive || Invert(StatusCaution) != StatusCaution {
		t.Error("Invert should leave other statuses alone")
	}
	if Flag(StatusPass) != StatusCaution || Flag(StatusFail) != StatusPass {
		t.Error("Flag should map findings to caution")
	}
}

func TestSortGroups_StableByDisplayOrder(t *testing.T) {
	in := []SignalGroup{
		{GroupName: "c", DisplayOrder: 2},
		{GroupName: "a", DisplayOrder: 1},
		{GroupName: "b", DisplayOrder: 1},
	}
	out := SortGroups(in)
	got := []string{out[0].GroupName, out[1].GroupName, out[2].GroupName}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if in[0].GroupName != "c" {
		t.Error("SortGroups must not reorder its input")
	}
}
