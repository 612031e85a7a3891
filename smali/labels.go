package smali

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vsoch/gobaksmali/parsers/dalvik"
	"github.com/vsoch/gobaksmali/parsers/dex"
)

// Label kinds, which are also the label name prefixes.
const (
	labelArray        = "array"
	labelCatch        = "catch"
	labelCatchAll     = "catchall"
	labelCond         = "cond"
	labelGoto         = "goto"
	labelPackedSwitch = "pswitch"
	labelPackedData   = "pswitch_data"
	labelSparseSwitch = "sswitch"
	labelSparseData   = "sswitch_data"
	labelTryStart     = "try_start"
	labelTryEnd       = "try_end"
)

type labelKey struct {
	kind string
	addr uint32
}

// labelSet names the code addresses a method refers to. Offset labels
// carry the address in hex (:cond_1a); sequential labels number each kind
// from zero in address order (:cond_0).
type labelSet struct {
	sequential bool
	index      map[labelKey]int
	// sorted by address, then kind
	labels []labelKey
}

func newLabelSet(sequential bool) *labelSet {
	return &labelSet{sequential: sequential, index: map[labelKey]int{}}
}

func (s *labelSet) add(kind string, addr uint32) {
	k := labelKey{kind, addr}
	if _, ok := s.index[k]; ok {
		return
	}
	s.index[k] = 0
	s.labels = append(s.labels, k)
}

func (s *labelSet) finish() {
	sort.Slice(s.labels, func(i, j int) bool {
		a, b := s.labels[i], s.labels[j]
		if a.addr != b.addr {
			return a.addr < b.addr
		}
		return a.kind < b.kind
	})
	next := map[string]int{}
	for _, k := range s.labels {
		s.index[k] = next[k.kind]
		next[k.kind]++
	}
}

func (s *labelSet) name(kind string, addr uint32) string {
	if n, ok := s.index[labelKey{kind, addr}]; ok && s.sequential {
		return fmt.Sprintf(":%s_%d", kind, n)
	}
	return fmt.Sprintf(":%s_%x", kind, addr)
}

// targetKind is the kind of label an instruction's own target gets.
func targetKind(op *dalvik.Opcode) string {
	switch {
	case op.Name == "packed-switch":
		return labelPackedData
	case op.Name == "sparse-switch":
		return labelSparseData
	case op.Format == dalvik.Format31t:
		return labelArray
	case strings.HasPrefix(op.Name, "goto"):
		return labelGoto
	}
	return labelCond
}

// collectLabels finds every labelled address of a method. Switch payload
// targets are relative to the switch that refers to the payload, so the
// payload bases are found first. It also returns, per try block, the
// offset of the last instruction the block covers, or -1 when it covers
// none.
func collectLabels(insns []dalvik.Instruction, tries []dex.TryItem, sequential bool) (*labelSet, []int64) {
	s := newLabelSet(sequential)
	base := map[uint32]uint32{}
	for i := range insns {
		ins := &insns[i]
		if ins.Invalid || !ins.HasTarget() || ins.Opcode.Format.IsPayload() {
			continue
		}
		if ins.Opcode.Has(dalvik.Switch) {
			if _, ok := base[ins.TargetAddr()]; !ok {
				base[ins.TargetAddr()] = ins.Offset
			}
		}
		s.add(targetKind(ins.Opcode), ins.TargetAddr())
	}

	for i := range insns {
		ins := &insns[i]
		if ins.Invalid || ins.Payload == nil || ins.Opcode.Format == dalvik.FormatArrayPayload {
			continue
		}
		kind := labelPackedSwitch
		if ins.Opcode.Format == dalvik.FormatSparseSwitchPayload {
			kind = labelSparseSwitch
		}
		from, ok := base[ins.Offset]
		if !ok {
			from = ins.Offset
		}
		for _, t := range ins.Payload.Targets {
			s.add(kind, uint32(int64(from)+int64(t)))
		}
	}

	last := make([]int64, len(tries))
	for i, try := range tries {
		last[i] = -1
		for j := range insns {
			off := insns[j].Offset
			if off >= try.Start && off < try.End() {
				last[i] = int64(off)
			}
		}
		if last[i] < 0 {
			continue
		}
		s.add(labelTryStart, try.Start)
		// named after the first address past the block
		s.add(labelTryEnd, try.End())
		for _, c := range try.Handler.Catches {
			s.add(labelCatch, c.Addr)
		}
		if try.Handler.HasCatchAll {
			s.add(labelCatchAll, try.Handler.CatchAll)
		}
	}
	s.finish()
	return s, last
}

// switchBase returns the offset switch targets of the payload at addr are
// relative to.
func switchBase(insns []dalvik.Instruction, addr uint32) uint32 {
	for i := range insns {
		ins := &insns[i]
		if !ins.Invalid && ins.Opcode != nil && ins.Opcode.Has(dalvik.Switch) && ins.TargetAddr() == addr {
			return ins.Offset
		}
	}
	return addr
}
