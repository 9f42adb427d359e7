package jit

import "go.uber.org/zap"

// Optimizer runs the fixed, ordered pass sequence over a recorded
// Buffer. Every pass mutates the buffer in place and must preserve
// SSA operand-ordering and snapshot-entry validity; none of them allocate
// a new buffer.
type Optimizer struct {
	log *zap.SugaredLogger
}

func NewOptimizer(log *zap.SugaredLogger) *Optimizer {
	if log == nil {
		log = newNopLogger()
	}
	return &Optimizer{log: log}
}

// Run executes the fourteen passes in their canonical order. Deviating
// from this order weakens the result but the contract is that no pass may
// depend on a later one having already run, so running a prefix is always
// safe (useful for targeted testing).
func (o *Optimizer) Run(b *Buffer) error {
	if len(b.Snapshots) == 0 {
		return ErrNoSnapshots
	}
	passLoopVariablePromotion(b)
	passBoxUnboxElimination(b)
	passRedundantGuardElimination(b)
	passConstantPropagation(b)
	passGVN(b)
	passLICM(b)
	passGuardHoisting(b)
	passStrengthReduction(b)
	passBoundsCheckDedup(b)
	passEscapeAnalysis(b)
	passDCE(b)
	passProofBasedGuardElimination(b)
	passIntegerIVInference(b)
	passDCE(b)
	return nil
}

// --- shared helpers ------------------------------------------------------

// isConst reports whether id names a constant-producing node.
func isConst(b *Buffer, id int32) bool {
	if id == NoOperand {
		return false
	}
	switch b.Nodes[id].Op {
	case OpConstNum, OpConstInt, OpConstBool, OpConstNull, OpConstObj:
		return true
	}
	return false
}

// sideEffecting reports whether a node must retain program order and can
// never be deduplicated, hoisted, or treated as dead by a naive sweep.
func sideEffecting(op Op) bool {
	switch op {
	case OpStoreStack, OpStoreField, OpStoreMod, OpCall,
		OpGuardNum, OpGuardClass, OpGuardTrue, OpGuardFalse, OpGuardNotNull,
		OpSnapshot, OpLoopHeader, OpLoopBack, OpSideExit:
		return true
	}
	return false
}

func before(id, boundary int32) bool {
	return id != NoOperand && id < boundary
}
