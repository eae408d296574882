package remote

import (
	"errors"
	"reflect"
	"testing"

	"github.com/liangyou/fwinstall/internal/fault"
)

func TestParseSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		n       int
		want    []int
		wantErr bool
	}{
		{name: "single", input: "1", n: 2, want: []int{1}},
		{name: "list with spaces", input: " 2 , 1 ", n: 2, want: []int{2, 1}},
		{name: "duplicates collapse", input: "1,1,2", n: 2, want: []int{1, 2}},
		{name: "out of range rejects all", input: "3,1", n: 2, wantErr: true},
		{name: "non numeric rejects all", input: "3,x", n: 2, wantErr: true},
		{name: "valid plus garbage rejects all", input: "1,x", n: 2, wantErr: true},
		{name: "zero", input: "0", n: 2, wantErr: true},
		{name: "negative", input: "-1", n: 2, wantErr: true},
		{name: "empty", input: "  ", n: 2, wantErr: true},
		{name: "trailing comma", input: "1,", n: 2, wantErr: true},
		{name: "empty catalog", input: "1", n: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelection(tt.input, tt.n)
			if tt.wantErr {
				if !errors.Is(err, fault.ErrInvalidSelection) {
					t.Fatalf("expected ErrInvalidSelection, got %v", err)
				}
				if got != nil {
					t.Fatalf("rejected input must not yield a partial selection: %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCatalogSelect(t *testing.T) {
	t.Parallel()

	catalog := BuildCatalog([]string{
		"Driver v1.60 |^| https://example/a.tar.gz",
		"Driver v1.61 |^| https://example/b.tar.gz",
	}, nil, nil)

	entries, err := catalog.Select("2,1")
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(entries) != 2 || entries[0].Version.Number() != "1.61" || entries[1].Version.Number() != "1.60" {
		t.Fatalf("unexpected selection: %+v", entries)
	}

	if _, err := catalog.Select("3,x"); !errors.Is(err, fault.ErrInvalidSelection) {
		t.Fatalf("expected invalid selection, got %v", err)
	}
}
