package policy

import "fmt"

// OpcodeEngine is a minimal gas-metered interpreter for the opaque
// bytecode a Policy carries. The bytecode format is deliberately small:
// a flat list of single-byte opcodes, each costing one unit of gas,
// terminated by an explicit outcome opcode. Any richer bytecode format
// (Wasm, a native DSL) can replace this engine without the Court package
// changing, since Court is generic over the Engine interface.
type OpcodeEngine struct{}

// NewOpcodeEngine creates the default bytecode interpreter.
func NewOpcodeEngine() *OpcodeEngine {
	return &OpcodeEngine{}
}

const (
	opDeny    byte = 0x00
	opAllow   byte = 0x01
	opRequire byte = 0x02 // followed by a length-prefixed context key; denies if the key is absent from context
)

// Execute interprets policy.Bytecode against context, consuming one unit
// of gas per opcode and failing closed if policy.GasLimit is exceeded
// before an outcome opcode is reached.
func (e *OpcodeEngine) Execute(policy *Policy, context map[string]string) (PolicyResult, error) {
	var gasUsed uint64
	i := 0
	for i < len(policy.Bytecode) {
		if gasUsed >= policy.GasLimit {
			return PolicyResult{PolicyID: policy.ID, Passed: false, GasUsed: gasUsed, Message: "gas limit exceeded before outcome"}, ErrGasLimitExceeded
		}
		op := policy.Bytecode[i]
		gasUsed++
		switch op {
		case opAllow:
			return PolicyResult{PolicyID: policy.ID, Passed: true, GasUsed: gasUsed, Message: "allow"}, nil
		case opDeny:
			return PolicyResult{PolicyID: policy.ID, Passed: false, GasUsed: gasUsed, Message: "deny"}, nil
		case opRequire:
			if i+1 >= len(policy.Bytecode) {
				return PolicyResult{PolicyID: policy.ID, Passed: false, GasUsed: gasUsed, Message: "malformed require opcode"}, fmt.Errorf("policy: truncated require opcode")
			}
			keyLen := int(policy.Bytecode[i+1])
			i += 2
			if i+keyLen > len(policy.Bytecode) {
				return PolicyResult{PolicyID: policy.ID, Passed: false, GasUsed: gasUsed, Message: "malformed require opcode"}, fmt.Errorf("policy: truncated require key")
			}
			key := string(policy.Bytecode[i : i+keyLen])
			i += keyLen
			if _, ok := context[key]; !ok {
				return PolicyResult{PolicyID: policy.ID, Passed: false, GasUsed: gasUsed, Message: fmt.Sprintf("missing required context key %q", key)}, nil
			}
			continue
		default:
			return PolicyResult{PolicyID: policy.ID, Passed: false, GasUsed: gasUsed, Message: fmt.Sprintf("unknown opcode 0x%02x", op)}, fmt.Errorf("policy: unknown opcode 0x%02x", op)
		}
	}
	// Indeterminate: no outcome opcode reached. Treated as deny, matching
	// the strict-mode default for the three-valued outcome.
	return PolicyResult{PolicyID: policy.ID, Passed: false, GasUsed: gasUsed, Message: "indeterminate (no outcome opcode)"}, nil
}
