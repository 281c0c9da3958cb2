package instr

// Compression is a sub-opcode dispatch into an inner instruction Set. At
// set-build time its lowering reads a runtime sub-opcode from the
// constants area and tail-calls the corresponding nested deploy-table
// entry; when invoked directly from within another Complex body (the
// sub-opcode bound as a compile-time constant generic), the generator
// instead lowers the already-determined sub-instruction in place.
type Compression struct {
	Name  string
	Meta  Metadata // first generic is the GenericConstant sub-opcode selector
	Inner *Set
}

func (c *Compression) InstrName() string       { return c.Name }
func (c *Compression) InstrMetadata() Metadata { return c.Meta }
func (c *Compression) instructionVariant()     {}
