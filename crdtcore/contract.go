package crdtcore

// This file implements the opaque CRDT contract required of any
// document type the core is wired against: merge, diff, stateVectorOf,
// apply, encodeStateAsUpdate. doctransport and session depend only on
// these functions plus *Doc, never on rga.go's internals directly.

// Merge combines any number of updates into one, deduplicating identical
// ops and resolving concurrent inserts at the same position the same way
// Doc.Apply does, so merge(updates) fed through apply converges with
// applying each update individually in any order.
func Merge(updates ...Update) (Update, error) {
	seen := make(map[ID]Op)
	order := make([]ID, 0)
	for _, u := range updates {
		ops, err := DecodeUpdate(u)
		if err != nil {
			return nil, err
		}
		for _, op := range ops {
			key := op.ID
			if op.Deleted {
				key = ID{Seq: op.ID.Seq, NodeID: op.ID.NodeID}
			}
			if existing, ok := seen[key]; ok && existing.Deleted {
				continue // tombstone wins over a duplicate insert record
			}
			if _, ok := seen[key]; !ok {
				order = append(order, key)
			}
			seen[key] = op
		}
	}
	merged := make([]Op, 0, len(order))
	for _, id := range order {
		merged = append(merged, seen[id])
	}
	return EncodeUpdate(merged), nil
}

// Diff returns the subset of update whose ops are not yet reflected in sv
// (i.e. each op's Seq exceeds what sv records for that op's NodeID).
func Diff(update Update, sv StateVector) (Update, error) {
	ops, err := DecodeUpdate(update)
	if err != nil {
		return nil, err
	}
	missing := make([]Op, 0, len(ops))
	for _, op := range ops {
		if op.ID.Seq > sv[op.ID.NodeID] {
			missing = append(missing, op)
		}
	}
	return EncodeUpdate(missing), nil
}

// StateVectorOf computes the per-NodeID maximum Seq observed in update.
func StateVectorOf(update Update) (StateVector, error) {
	ops, err := DecodeUpdate(update)
	if err != nil {
		return nil, err
	}
	sv := make(StateVector)
	for _, op := range ops {
		if op.ID.Seq > sv[op.ID.NodeID] {
			sv[op.ID.NodeID] = op.ID.Seq
		}
	}
	return sv, nil
}

// Apply applies every op in update to doc, tagged with origin (used by
// doctransport to suppress sync-echo, not interpreted here).
func Apply(doc *Doc, update Update, origin string) error {
	ops, err := DecodeUpdate(update)
	if err != nil {
		return err
	}
	for _, op := range ops {
		doc.Apply(op, origin)
	}
	return nil
}

// EncodeStateAsUpdate returns the full current state of doc as an Update.
func EncodeStateAsUpdate(doc *Doc) Update {
	return EncodeUpdate(doc.Ops())
}
