package debuginfo

// LocOp is one instruction of a location expression: a small stack program
// whose final stack value is the storage location of a variable. The
// interpreter lives in pkg/vm/debugger/source.
type LocOp interface {
	isLocOp()
}

// PushRegister pushes the named register.
type PushRegister struct {
	Name string
}

// PushFrameBaseOffset pushes the frame base register plus the given
// offset.
type PushFrameBaseOffset struct {
	Offset int64
}

// PushAddress pushes an absolute memory address.
type PushAddress struct {
	Addr uint64
}

// Deref pops an addressable location and pushes the memory location it
// points at.
type Deref struct{}

// Add pops two locations and pushes their sum.
type Add struct{}

func (PushRegister) isLocOp()        {}
func (PushFrameBaseOffset) isLocOp() {}
func (PushAddress) isLocOp()         {}
func (Deref) isLocOp()               {}
func (Add) isLocOp()                 {}
