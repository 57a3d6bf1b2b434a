// Package collab provides the four collaborator passes that surround
// the optimization core: metadata attachment, check insertion, the
// host-library filter, and post-pass metadata scrubbing. They are not
// part of the optimization core itself, but the pipeline needs them
// wired up to be exercisable end to end.
//
// The "array-access" annotation is tracked in a side table keyed by
// the GEP it was computed for, which the CLI passes from AttachMetadata
// to InsertChecks and ScrubArrayAccessMetadata in place of reading it
// back off the IR.
package collab

import (
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/dshills/boundcheck/internal/checkabi"
)

// AccessKind distinguishes a compile-time-sized array from a pointer
// traced back to a single malloc-shaped allocation.
type AccessKind int

const (
	StaticArray AccessKind = iota
	DynamicArray
)

// AccessInfo is one GEP's "array-access" annotation: the element
// bound, and for a dynamic array the allocation call it was traced to.
type AccessInfo struct {
	Kind       AccessKind
	Bound      value.Value
	Allocation *ir.InstCall
}

// Metadata is the per-procedure side table AttachMetadata populates
// and InsertChecks/ScrubArrayAccessMetadata consume.
type Metadata struct {
	byGEP map[*ir.InstGetElementPtr]AccessInfo
}

func newMetadata() *Metadata { return &Metadata{byGEP: make(map[*ir.InstGetElementPtr]AccessInfo)} }

// mallocAllocSize recognizes a malloc-shaped size-in-bytes argument of
// the form elemSize*n or n*elemSize, returning n.
func mallocAllocSize(size value.Value, elemSize int64) (value.Value, bool) {
	mul, ok := size.(*ir.InstMul)
	if !ok {
		return nil, false
	}
	if c, ok := mul.X.(*constant.Int); ok && c.X.Int64() == elemSize {
		return mul.Y, true
	}
	if c, ok := mul.Y.(*constant.Int); ok && c.X.Int64() == elemSize {
		return mul.X, true
	}
	return nil, false
}

// traceAllocation walks base through loads and stores looking for a
// call to "malloc" that it ultimately derives from.
func traceAllocation(fn *ir.Func, base value.Value) *ir.InstCall {
	sources := make(map[value.Value]*ir.InstCall)
	for _, b := range fn.Blocks {
		for _, inst := range b.Insts {
			switch x := inst.(type) {
			case *ir.InstCall:
				if callee, ok := x.Callee.(*ir.Func); ok && callee.GlobalName == "malloc" {
					sources[x] = x
				}
			case *ir.InstStore:
				if src, ok := sources[x.Src]; ok {
					sources[x.Dst] = src
				}
			case *ir.InstLoad:
				if src, ok := sources[x.Src]; ok {
					sources[x] = src
				}
			}
		}
	}
	return sources[base]
}

// AttachMetadata walks every GEP in fn and records its array-access
// annotation: a static-array GEP's bound is its source element type's
// length; a dynamic one's bound is the non-constant operand of the
// allocation size expression it traces back to, when found.
func AttachMetadata(fn *ir.Func) *Metadata {
	md := newMetadata()
	for _, b := range fn.Blocks {
		for _, inst := range b.Insts {
			gep, ok := inst.(*ir.InstGetElementPtr)
			if !ok {
				continue
			}
			if arr, ok := gep.ElemType.(*types.ArrayType); ok {
				md.byGEP[gep] = AccessInfo{Kind: StaticArray, Bound: checkabi.ConstBound(int64(arr.Len))}
				continue
			}
			alloc := traceAllocation(fn, gep.Src)
			if alloc == nil || len(alloc.Args) == 0 {
				continue
			}
			elemSize := elementByteSize(gep.ElemType)
			if elemSize == 0 {
				continue
			}
			if n, ok := mallocAllocSize(alloc.Args[0], elemSize); ok {
				md.byGEP[gep] = AccessInfo{Kind: DynamicArray, Bound: n, Allocation: alloc}
			}
		}
	}
	return md
}

// elementByteSize reports a coarse byte size for the handful of scalar
// element types this pass's benchmarks use; anything else reports 0
// (meaning "unknown": no annotation is attached).
func elementByteSize(t types.Type) int64 {
	switch x := t.(type) {
	case *types.IntType:
		return int64((x.BitSize + 7) / 8)
	case *types.PointerType:
		return 8
	case *types.FloatType:
		return 8
	default:
		return 0
	}
}

// InsertChecks inserts a checkLowerBound/checkUpperBound pair
// immediately before every annotated GEP in fn, using the GEP's own
// index operand as the index. No analysis happens here. The metadata
// records an element count, while the check ABI's upper check wants
// the inclusive top index, `count-1`; the lower check's bound is
// always the constant 0.
func InsertChecks(fn *ir.Func, md *Metadata, checkLB, checkUB *ir.Func) {
	for _, b := range fn.Blocks {
		var inserted []ir.Instruction
		for _, inst := range b.Insts {
			gep, ok := inst.(*ir.InstGetElementPtr)
			if ok {
				if info, ok := md.byGEP[gep]; ok && len(gep.Indices) > 0 {
					index := gep.Indices[len(gep.Indices)-1]
					file := checkabi.ConstBound(0)
					line := checkabi.ConstBound(0)
					upperBound, extra := countMinusOne(info.Bound)
					inserted = append(inserted, extra...)
					inserted = append(inserted, checkabi.Build(b, checkLB, checkabi.ConstBound(0), index, file, line))
					inserted = append(inserted, checkabi.Build(b, checkUB, upperBound, index, file, line))
				}
			}
			inserted = append(inserted, inst)
		}
		b.Insts = inserted
	}
}

// countMinusOne turns an element count into the inclusive top index the
// Check ABI's upper bound expects. A constant count folds directly;
// anything else (a loaded malloc-bound variable, say) needs a real
// `sub` instruction, returned in extra so the caller can splice it in
// ahead of the check that consumes it.
func countMinusOne(count value.Value) (bound value.Value, extra []ir.Instruction) {
	if c, ok := count.(*constant.Int); ok {
		return constant.NewInt(types.I64, c.X.Int64()-1), nil
	}
	sub := ir.NewSub(count, constant.NewInt(types.I64, 1))
	return sub, []ir.Instruction{sub}
}

// ScrubArrayAccessMetadata discards fn's array-access annotations once
// InsertChecks has consumed them: a second pipeline run over the same IR
// must not see stale metadata pointing at check calls the core may
// already have erased.
func ScrubArrayAccessMetadata(fn *ir.Func, md *Metadata) {
	for k := range md.byGEP {
		delete(md.byGEP, k)
	}
}

// cxxSTLPrefixes are the name prefixes, in mangled and demangled form,
// recognized as belonging to the C++ standard library.
var cxxSTLPrefixes = []string{"std::", "_ZNSt", "__gnu_cxx::", "__cxa_"}

// IsHostLibraryFunc reports whether fn's name carries a known
// standard-library prefix and should therefore be skipped by the
// driver before any analysis runs.
func IsHostLibraryFunc(fn *ir.Func) bool {
	name := fn.GlobalName
	for _, p := range cxxSTLPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return len(fn.Blocks) == 0 && isLikelyLibcDecl(name)
}

// isLikelyLibcDecl reports whether a bodiless declaration looks like a
// C runtime entry point (malloc, free, printf family, memcpy family)
// rather than a procedure this module itself defines and should
// analyze — such declarations carry no blocks for the core to
// transform in any case, but the driver still skips them explicitly so
// the checkpoint stats never report a phantom zero-check procedure.
func isLikelyLibcDecl(name string) bool {
	switch name {
	case "malloc", "free", "calloc", "realloc",
		"printf", "fprintf", "sprintf", "snprintf",
		"memcpy", "memmove", "memset",
		checkabi.LowerBoundFunc, checkabi.UpperBoundFunc:
		return true
	default:
		return false
	}
}
