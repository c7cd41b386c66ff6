// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package main

import (
	"reflect"
	"testing"
)

func TestSplitLine(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"ls", []string{"ls"}},
		{"get remote.bin local.bin", []string{"get", "remote.bin", "local.bin"}},
		{`get "a file" dest`, []string{"get", "a file", "dest"}},
		{`get 'a file'`, []string{"get", "a file"}},
		{`get a\ file`, []string{"get", "a file"}},
		{`get "quoted \" inner"`, []string{"get", `quoted " inner`}},
		{`rm ""`, []string{"rm", ""}},
		{"ls   -la    /tmp", []string{"ls", "-la", "/tmp"}},
	}

	for _, test := range tests {
		got, err := splitLine(test.in)
		if err != nil {
			t.Errorf("split(%q): %v", test.in, err)
			continue
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("split(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

func TestSplitLineUnterminated(t *testing.T) {
	for _, in := range []string{`get "oops`, `get 'oops`, `get oops\`} {
		if _, err := splitLine(in); err == nil {
			t.Errorf("split(%q): expected error", in)
		}
	}
}

func TestColumnate(t *testing.T) {
	tests := []struct {
		names []string
		width int
		want  []string
	}{
		// two names of width 1 on an 80-column terminal share a row
		{[]string{"a", "b"}, 80, []string{"a b"}},
		{nil, 80, nil},
		{[]string{"only"}, 80, []string{"only"}},
		// too narrow: one per row
		{[]string{"longname", "other"}, 4, []string{"longname", "other"}},
		// 5 names, width 7 -> cols=(7+1)/(1+1)=4, rows=2, down the columns
		{[]string{"a", "b", "c", "d", "e"}, 7, []string{"a c e", "b d"}},
	}

	for _, test := range tests {
		got := columnate(test.names, test.width)
		if !reflect.DeepEqual(got, test.want) {
			t.Errorf("columnate(%v, %v) = %q, want %q", test.names, test.width, got, test.want)
		}
	}
}

func TestDispatch(t *testing.T) {
	calls := 0
	var gotArgs []string

	registerCommands("test", []command{
		{
			Name: "frob", MinArgs: 1, MaxArgs: 2,
			Call: func(av []string) error {
				calls++
				gotArgs = av
				return nil
			},
			Help: "frob things",
		},
	})
	defer delete(commands, "frob")

	if err := runLine("frob one two"); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if calls != 1 || !reflect.DeepEqual(gotArgs, []string{"one", "two"}) {
		t.Fatalf("calls %v args %v", calls, gotArgs)
	}

	// arity enforced before the handler runs
	if err := runLine("frob"); err == nil {
		t.Fatal("expected arity error")
	}
	if err := runLine("frob a b c"); err == nil {
		t.Fatal("expected arity error")
	}
	if calls != 1 {
		t.Fatalf("handler ran despite arity error, calls %v", calls)
	}

	if err := runLine("nosuchcommand"); err == nil {
		t.Fatal("expected unknown command error")
	}

	// comments and blanks dispatch nothing
	if err := runLine("# comment"); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if err := runLine("   "); err != nil {
		t.Fatalf("blank: %v", err)
	}
}

func TestParseLsOptions(t *testing.T) {
	opts, err := parseLsOptions("la")
	if err != nil {
		t.Fatal(err)
	}
	if !opts.long || !opts.all {
		t.Fatalf("opts %+v", opts)
	}

	if _, err := parseLsOptions("q"); err == nil {
		t.Fatal("expected invalid option error")
	}
}
