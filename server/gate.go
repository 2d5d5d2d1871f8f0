package server

import (
	"context"

	"github.com/Polqt/collabsync/permission"
	"github.com/Polqt/collabsync/wire"
)

// HTTP-style status codes file-transfer replies carry in FileAuth/denial
// responses.
const (
	StatusUnauthorized        uint64 = 401
	StatusForbidden           uint64 = 403
	StatusNotFound            uint64 = 404
	StatusPayloadTooLarge     uint64 = 413
	StatusInternalServerError uint64 = 500
	StatusNotImplemented      uint64 = 501
)

// requiredPermission classifies an inbound message: ACKs always pass,
// awareness/sync-step-1/milestone-list/milestone-snapshot/file-download
// need read, everything that mutates document or file state needs
// write. The bool reports whether msg needs gating at all (unrecognized
// categories are ungated).
func requiredPermission(msg wire.Message) (permission.Type, bool) {
	switch m := msg.(type) {
	case *wire.AckMessage:
		return "", false
	case *wire.AwarenessMessage:
		return permission.Read, true
	case *wire.DocMessage:
		switch m.Payload.(type) {
		case wire.SyncStep1, wire.MilestoneListReq, wire.MilestoneSnapshotReq:
			return permission.Read, true
		default:
			return permission.Write, true
		}
	case *wire.FileMessage:
		switch m.Payload.(type) {
		case wire.FileDownload:
			return permission.Read, true
		case wire.FileUpload, wire.FilePart:
			return permission.Write, true
		default:
			return "", false
		}
	default:
		return "", false
	}
}

// isSyncStep2 reports whether msg is a doc sync-step-2 payload, the one
// message type with an extra denial step: besides the auth-message
// rejection it also receives a sync-done, so a denied client's local
// replica does not hang waiting for one.
func isSyncStep2(msg wire.Message) bool {
	dm, ok := msg.(*wire.DocMessage)
	if !ok {
		return false
	}
	_, ok = dm.Payload.(wire.SyncStep2)
	return ok
}

// Gate authorizes inbound messages against an injected permission.Checker,
// defaulting to permission.AllowAll when none is configured.
type Gate struct {
	checker permission.Checker
}

func NewGate(checker permission.Checker) *Gate {
	if checker == nil {
		checker = permission.AllowAll{}
	}
	return &Gate{checker: checker}
}

// Check returns true if msg is admitted. req.Type is filled in from the
// message itself; callers only need to supply client/user/room/document.
func (g *Gate) Check(ctx context.Context, req permission.Request, msg wire.Message) (allowed bool, needed bool) {
	typ, needsGate := requiredPermission(msg)
	if !needsGate {
		return true, false
	}
	req.Type = typ
	return g.checker.Check(ctx, req), true
}
