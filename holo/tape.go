package holo

// tape records one backward closure per forward step and replays them in
// reverse. A nil *tape turns every op into a plain forward evaluation.
type tape struct {
	ops []func()
}

func (t *tape) record(back func()) {
	if t != nil {
		t.ops = append(t.ops, back)
	}
}

func (t *tape) backward() {
	for i := len(t.ops) - 1; i >= 0; i-- {
		t.ops[i]()
	}
}

func (t *tape) reset() {
	clear(t.ops)
	t.ops = t.ops[:0]
}

// node is a batch of real planes with an optional gradient of the same shape.
type node struct {
	val  PhaseField
	grad PhaseField
}

func newNode(batch, rows, cols int, withGrad bool) *node {
	n := &node{val: make(PhaseField, batch)}
	for k := range n.val {
		n.val[k] = NewPlane(rows, cols)
	}
	if withGrad {
		n.grad = make(PhaseField, batch)
		for k := range n.grad {
			n.grad[k] = NewPlane(rows, cols)
		}
	}
	return n
}

func (n *node) zeroGrad() {
	for _, p := range n.grad {
		for _, row := range p {
			clear(row)
		}
	}
}

// cnode is the complex counterpart of node. Gradients follow the
// dL/dRe + i*dL/dIm convention, so linear maps back-propagate through their
// conjugate transpose.
type cnode struct {
	val  [][][]complex128
	grad [][][]complex128
}

func newCNode(batch, rows, cols int, withGrad bool) *cnode {
	n := &cnode{val: make([][][]complex128, batch)}
	for k := range n.val {
		n.val[k] = makeComplex2D(rows, cols)
	}
	if withGrad {
		n.grad = make([][][]complex128, batch)
		for k := range n.grad {
			n.grad[k] = makeComplex2D(rows, cols)
		}
	}
	return n
}
