package deodex

import "github.com/vsoch/gobaksmali/descriptor"

// Size of the object header (class pointer and lock word) every instance
// field layout starts after.
const objectHeaderSize = 8

func (ix *ClasspathIndex) layout(ci *ClassInfo, src classSource, super *ClassInfo, ifaces []*ClassInfo) {
	base := uint32(objectHeaderSize)
	if ci.Super != "" {
		if super == nil || !super.Resolved {
			ci.Resolved = false
		}
		if super != nil {
			base = super.ObjectSize
			for off, f := range super.Fields {
				ci.Fields[off] = f
			}
		}
	}
	if len(ifaces) != len(ci.Interfaces) && ci.Access&descriptor.AccAbstract != 0 {
		// miranda methods would be missing from the vtable
		ci.Resolved = false
	}

	fields := make([]Member, 0, len(src.def.InstanceFields))
	for _, f := range src.def.InstanceFields {
		fields = append(fields, fieldMember(src.c, f))
	}
	offsets, size := fieldOffsets(fields, base)
	for i, f := range fields {
		ci.Fields[offsets[i]] = f
	}
	ci.ObjectSize = size

	if ci.IsInterface {
		return
	}
	ci.Vtable = ix.vtable(ci, super, ifaces)
}

func fieldKind(typ string) byte {
	if typ == "" {
		return 'V'
	}
	return typ[0]
}

func isRefField(f Member) bool {
	c := fieldKind(f.Type)
	return c == 'L' || c == '['
}

func isWideField(f Member) bool {
	c := fieldKind(f.Type)
	return c == 'J' || c == 'D'
}

// fieldOffsets assigns byte offsets the way the Dalvik class loader does:
// reference fields first, then one 32-bit field (or padding) to reach
// 8-byte alignment, then the wide fields, then the remaining 32-bit
// fields. Fields are reordered by swapping from the end of the list, so the
// order within each group is not the declaration order. fields is
// reordered in place; the returned offsets follow the new order.
func fieldOffsets(fields []Member, base uint32) ([]uint32, uint32) {
	offsets := make([]uint32, len(fields))
	offset := base
	swap := func(i, j int) {
		fields[i], fields[j] = fields[j], fields[i]
	}

	i := 0
	j := len(fields) - 1
	for ; i < len(fields); i++ {
		if !isRefField(fields[i]) {
			for j > i {
				k := j
				j--
				if isRefField(fields[k]) {
					swap(i, k)
					break
				}
			}
			if !isRefField(fields[i]) {
				break
			}
		}
		offsets[i] = offset
		offset += 4
	}

	if i != len(fields) && offset&7 != 0 {
		if !isWideField(fields[i]) {
			offsets[i] = offset
			offset += 4
			i++
		} else {
			found := false
			for k := len(fields) - 1; k > i; k-- {
				if !isWideField(fields[k]) {
					swap(i, k)
					offsets[i] = offset
					offset += 4
					i++
					found = true
					break
				}
			}
			if !found {
				offset += 4
			}
		}
	}

	j = len(fields) - 1
	for ; i < len(fields); i++ {
		if !isWideField(fields[i]) {
			for j > i {
				k := j
				j--
				if isWideField(fields[k]) {
					swap(i, k)
					break
				}
			}
			if !isWideField(fields[i]) {
				break
			}
		}
		offsets[i] = offset
		offset += 8
	}

	for ; i < len(fields); i++ {
		offsets[i] = offset
		offset += 4
	}
	return offsets, offset
}

// canOverride reports whether a method of sub may replace the vtable slot
// of superMethod.
func (ix *ClasspathIndex) canOverride(sub string, superMethod Member) bool {
	if !ix.opts.CheckPackagePrivateAccess {
		return true
	}
	if superMethod.Access&(descriptor.AccPublic|descriptor.AccProtected) != 0 {
		return true
	}
	return descriptor.SamePackage(sub, superMethod.Class)
}

// vtable starts from the superclass table, lets each declared virtual
// method take over the first slot with the same name and prototype or
// appends it, then appends the interface methods nothing implements.
func (ix *ClasspathIndex) vtable(ci *ClassInfo, super *ClassInfo, ifaces []*ClassInfo) []Member {
	var table []Member
	inherited := 0
	if super != nil {
		table = append(table, super.Vtable...)
		inherited = len(table)
	}
	for _, m := range ci.Virtual {
		slot := -1
		for si := 0; si < inherited; si++ {
			s := table[si]
			if s.Name == m.Name && s.Type == m.Type && ix.canOverride(ci.Descriptor, s) {
				slot = si
				break
			}
		}
		if slot >= 0 {
			table[slot] = m
		} else {
			table = append(table, m)
		}
	}

	implemented := func(name, proto string) bool {
		for _, s := range table {
			if s.Name == name && s.Type == proto {
				return true
			}
		}
		return false
	}
	seen := map[string]bool{}
	var visit func(iface *ClassInfo)
	visit = func(iface *ClassInfo) {
		if iface == nil || seen[iface.Descriptor] {
			return
		}
		seen[iface.Descriptor] = true
		for _, m := range iface.Virtual {
			if !implemented(m.Name, m.Type) {
				table = append(table, m)
			}
		}
		for _, name := range iface.Interfaces {
			visit(ix.classLocked(name))
		}
	}
	for _, iface := range ifaces {
		visit(iface)
	}
	return table
}
