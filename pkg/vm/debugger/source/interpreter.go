package source

import (
	"github.com/dmolina/escarabajo/pkg/utils"
	"github.com/dmolina/escarabajo/pkg/vm/debuginfo"
)

// DefaultFrameBaseRegister is the register local variable offsets are
// relative to unless the caller picks another one.
const DefaultFrameBaseRegister = "BP"

// RegisterReader is the slice of the native controller the location
// interpreter needs: register reads to resolve addresses.
type RegisterReader interface {
	GetRegister(name string) (int64, error)
}

// locInterpreter is the stack machine that reduces a location program to
// a single concrete Location.
type locInterpreter struct {
	native       RegisterReader
	frameBaseReg string
	stack        []Location
}

// InterpretLocation runs the location program and returns the resulting
// location. frameBaseReg selects the frame base register; pass "" for the
// default. Register reads needed to resolve dereferences can make calls
// into the target, one per register.
func InterpretLocation(ops []debuginfo.LocOp, native RegisterReader, frameBaseReg string) (Location, error) {
	if frameBaseReg == "" {
		frameBaseReg = DefaultFrameBaseRegister
	}
	vm := &locInterpreter{native: native, frameBaseReg: frameBaseReg}
	if err := vm.run(ops); err != nil {
		return nil, err
	}
	if len(vm.stack) != 1 {
		return nil, utils.MakeError(ErrInterpret,
			"location program left %d values on the stack, expected one", len(vm.stack))
	}
	return vm.stack[0], nil
}

func (vm *locInterpreter) push(loc Location) {
	vm.stack = append(vm.stack, loc)
}

func (vm *locInterpreter) pop() (Location, error) {
	if len(vm.stack) == 0 {
		return nil, utils.MakeError(ErrInterpret, "stack underflow in location program")
	}
	loc := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return loc, nil
}

func (vm *locInterpreter) run(ops []debuginfo.LocOp) error {
	for _, op := range ops {
		switch op := op.(type) {
		case debuginfo.PushRegister:
			vm.push(RegisterLoc{Name: op.Name})
		case debuginfo.PushFrameBaseOffset:
			vm.push(OffsetLoc{Reg: vm.frameBaseReg, Offset: op.Offset})
		case debuginfo.PushAddress:
			vm.push(AddressLoc{Addr: int64(op.Addr)})
		case debuginfo.Deref:
			top, err := vm.pop()
			if err != nil {
				return err
			}
			addr, err := vm.resolveAddress(top)
			if err != nil {
				return err
			}
			vm.push(MemoryLoc{Addr: addr})
		case debuginfo.Add:
			a, err := vm.pop()
			if err != nil {
				return err
			}
			b, err := vm.pop()
			if err != nil {
				return err
			}
			sum, err := addLocations(a, b)
			if err != nil {
				return err
			}
			vm.push(sum)
		default:
			return utils.MakeError(ErrInterpret, "unknown location program op %T", op)
		}
	}
	return nil
}

// resolveAddress reduces an addressable location to an absolute address.
// Plain register locations resolve through the register value, which is
// how pointers stored in registers are dereferenced.
func (vm *locInterpreter) resolveAddress(loc Location) (uint64, error) {
	switch loc := loc.(type) {
	case AddressLoc:
		return uint64(loc.Addr), nil
	case RegisterLoc:
		val, err := vm.native.GetRegister(loc.Name)
		if err != nil {
			return 0, err
		}
		return uint64(val), nil
	case OffsetLoc:
		val, err := vm.native.GetRegister(loc.Reg)
		if err != nil {
			return 0, err
		}
		return uint64(val + loc.Offset), nil
	case RegisterSumLoc:
		a, err := vm.native.GetRegister(loc.A)
		if err != nil {
			return 0, err
		}
		b, err := vm.native.GetRegister(loc.B)
		if err != nil {
			return 0, err
		}
		return uint64(a + b), nil
	default:
		return 0, utils.MakeError(ErrInterpret, "location %v is not addressable", loc)
	}
}

// addLocations implements the sum rules: immediates add, register plus
// immediate is register relative, two registers sum, anything else is
// malformed.
func addLocations(a, b Location) (Location, error) {
	switch a := a.(type) {
	case AddressLoc:
		switch b := b.(type) {
		case AddressLoc:
			return AddressLoc{Addr: a.Addr + b.Addr}, nil
		case RegisterLoc:
			return OffsetLoc{Reg: b.Name, Offset: a.Addr}, nil
		case OffsetLoc:
			return OffsetLoc{Reg: b.Reg, Offset: b.Offset + a.Addr}, nil
		}
	case RegisterLoc:
		switch b := b.(type) {
		case AddressLoc:
			return OffsetLoc{Reg: a.Name, Offset: b.Addr}, nil
		case RegisterLoc:
			return RegisterSumLoc{A: a.Name, B: b.Name}, nil
		}
	case OffsetLoc:
		if b, ok := b.(AddressLoc); ok {
			return OffsetLoc{Reg: a.Reg, Offset: a.Offset + b.Addr}, nil
		}
	}
	return nil, utils.MakeError(ErrInterpret, "cannot add locations %v and %v", a, b)
}
