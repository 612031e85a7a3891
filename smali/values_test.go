package smali

import (
	"math"
	"path/filepath"
	"testing"
)

func TestLiterals(t *testing.T) {
	for _, test := range []struct {
		v    int64
		want string
	}{
		{0, "0x0"},
		{31, "0x1f"},
		{-1, "-0x1"},
		{math.MinInt64, "-0x8000000000000000"},
	} {
		if got := hex(test.v); got != test.want {
			t.Errorf("hex(%d) = %s, wanted %s", test.v, got, test.want)
		}
	}

	for _, test := range []struct {
		s    string
		want string
	}{
		{"hi", `"hi"`},
		{"a\"b\\c\n", `"a\"b\\c\n"`},
		{"it's", `"it\'s"`},
		{"é", `"\u00e9"`},
		{"\U0001f600", `"\ud83d\ude00"`},
		// lone surrogates as the reader stores them
		{"a\xed\xa0\x80", `"a\ud800"`},
		{"\xed\xbf\xbfz", `"\udfffz"`},
	} {
		if got := quote(test.s); got != test.want {
			t.Errorf("quote(%q) = %s, wanted %s", test.s, got, test.want)
		}
	}
	if got := char(0); got != `'\u0000'` {
		t.Errorf("char(0) = %s", got)
	}
}

func TestJavaFloat(t *testing.T) {
	for _, test := range []struct {
		f    float64
		bits int
		want string
	}{
		{1, 32, "1.0"},
		{0.5, 64, "0.5"},
		{-0.0, 64, "0.0"},
		{math.Copysign(0, -1), 64, "-0.0"},
		{1e10, 64, "1.0E10"},
		{1.5e-5, 64, "1.5E-5"},
		{float64(float32(0.1)), 32, "0.1"},
		{math.NaN(), 64, "NaN"},
		{math.Inf(-1), 32, "-Infinity"},
	} {
		if got := javaFloat(test.f, test.bits); got != test.want {
			t.Errorf("javaFloat(%v, %d) = %s, wanted %s", test.f, test.bits, got, test.want)
		}
	}
}

func TestPath(t *testing.T) {
	for _, test := range []struct {
		desc string
		want string
	}{
		{"LTop;", "Top.smali"},
		{"Lcom/example/Foo$Bar;", filepath.Join("com", "example", "Foo$Bar.smali")},
		{"L../../etc/passwd;", filepath.Join("__", "__", "etc", "passwd.smali")},
		{"La//b;", filepath.Join("a", "_", "b.smali")},
	} {
		if got := Path(test.desc); got != test.want {
			t.Errorf("Path(%s) = %s, wanted %s", test.desc, got, test.want)
		}
	}
}

func TestLabelNumbering(t *testing.T) {
	for _, sequential := range []bool{false, true} {
		s := newLabelSet(sequential)
		s.add(labelCond, 0x20)
		s.add(labelGoto, 0x4)
		s.add(labelCond, 0x8)
		s.add(labelCond, 0x8)
		s.finish()
		if len(s.labels) != 3 || s.labels[0].addr != 0x4 {
			t.Fatalf("labels %v", s.labels)
		}
		want := []string{":cond_8", ":cond_20", ":goto_4"}
		if sequential {
			want = []string{":cond_0", ":cond_1", ":goto_0"}
		}
		got := []string{s.name(labelCond, 0x8), s.name(labelCond, 0x20), s.name(labelGoto, 0x4)}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("sequential=%v: label %d is %s, wanted %s", sequential, i, got[i], want[i])
			}
		}
	}
}

func TestParseRegisterInfo(t *testing.T) {
	for _, test := range []struct {
		s    string
		want RegisterInfo
	}{
		{"", 0},
		{"ARGS", RegisterArgs},
		{"args, dest", RegisterAll},
		{"ALL", RegisterAll},
		{"ALLPOST", RegisterDest},
	} {
		got, err := ParseRegisterInfo(test.s)
		if err != nil || got != test.want {
			t.Errorf("ParseRegisterInfo(%q) = %v, %v", test.s, got, err)
		}
	}
	if _, err := ParseRegisterInfo("FULLMERGE"); err == nil {
		t.Errorf("FULLMERGE accepted")
	}
}
