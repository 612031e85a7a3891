package deodex_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/vsoch/gobaksmali/deodex"
	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/parsers/dex"
	"github.com/vsoch/gobaksmali/parsers/dex/dextest"
)

// verify runs the verifier over the single method of Ltest;, built by body
// as a static method taking one int (the last register).
func verify(t *testing.T, registers uint16, body func(b *dextest.Builder) []uint16) []error {
	t.Helper()
	b := dextest.New()
	insns := body(b)
	b.AddClass(&dextest.Class{
		Descriptor: "Ltest;",
		Super:      "Ljava/lang/Object;",
		DirectMethods: []*dextest.Method{{
			Name: "run", Return: "V", Params: []string{"I"}, Access: dextest.AccStatic,
			Code: &dextest.Code{Registers: registers, Ins: 1, Insns: insns},
		}},
	})
	c := read(t, b)
	table := dalvik.ForAPILevel(14, false)
	index := deodex.NewClasspathIndex([]*dex.Container{read(t, boot())}, deodex.IndexOptions{}).Layer(c)
	cl := c.Classes[0]
	m := cl.DirectMethods[0]
	decoded, errs := dalvik.DecodeAll(m.Code, table, c, nil)
	if len(errs) != 0 {
		t.Fatalf("decode: %v", errs)
	}
	return deodex.NewVerifier(c, index, table).Method(cl, m, decoded)
}

func TestVerifyAcceptsValidCode(t *testing.T) {
	errs := verify(t, 2, func(b *dextest.Builder) []uint16 {
		s := b.String("lock")
		hash := b.Method("Ljava/lang/Object;", "hashCode", "I")
		return []uint16{
			0x001a, uint16(s),            // const-string v0, "lock"
			0x001d,                       // monitor-enter v0
			0x106e, uint16(hash), 0x0000, // invoke-virtual {v0}, Object->hashCode()I
			0x001e,                       // monitor-exit v0
			0x0012,                       // const/4 v0, 0x0
			0x001d,                       // monitor-enter v0, null is an object
			0x000e,                       // return-void
		}
	})
	if len(errs) != 0 {
		t.Errorf("valid code rejected: %v", errs)
	}
}

func TestVerifyRejects(t *testing.T) {
	for _, test := range []struct {
		name   string
		insns  []uint16
		offset uint32
		reason string
	}{
		{
			name: "primitive as object",
			insns: []uint16{
				0x1012, // const/4 v0, 0x1
				0x001d, // monitor-enter v0
				0x000e,
			},
			offset: 1,
			reason: "v0 holds a primitive where an object is required",
		},
		{
			name: "unset register",
			insns: []uint16{
				0x0121, // array-length v1, v0
				0x000e,
			},
			offset: 0,
			reason: "v0 is read before it is written",
		},
		{
			name: "merged int and object",
			insns: []uint16{
				0x0138, 0x0004, // if-eqz v1, +4
				0x1012,         // const/4 v0, 0x1
				0x0328,         // goto +3
				0x0022, 0x0000, // new-instance v0, type@0
				0x001d,         // monitor-enter v0
				0x000e,
			},
			offset: 6,
			reason: "v0 holds conflicting types",
		},
	} {
		errs := verify(t, 2, func(b *dextest.Builder) []uint16 {
			b.Type("Ltest;")
			return test.insns
		})
		if len(errs) != 1 {
			t.Errorf("%s: got %v, wanted one error", test.name, errs)
			continue
		}
		var verr *deodex.VerificationError
		if !errors.As(errs[0], &verr) {
			t.Errorf("%s: got %T", test.name, errs[0])
			continue
		}
		if verr.Offset != test.offset || verr.Reason != test.reason || verr.Class != "Ltest;" {
			t.Errorf("%s: got %+v", test.name, verr)
		}
		if !strings.Contains(verr.Error(), "Ltest;->run(I)V") {
			t.Errorf("%s: message %q", test.name, verr.Error())
		}
	}
}

func TestVerifySkipsUnreachableCode(t *testing.T) {
	errs := verify(t, 2, func(b *dextest.Builder) []uint16 {
		return []uint16{
			0x000e, // return-void
			0x001d, // monitor-enter v0, never reached
		}
	})
	if len(errs) != 0 {
		t.Errorf("unreachable code rejected: %v", errs)
	}
}
