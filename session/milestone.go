package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/Polqt/collabsync/storage"
	"github.com/Polqt/collabsync/wire"
)

func toWireMeta(m storage.Milestone) wire.MilestoneMeta {
	return wire.MilestoneMeta{
		ID:             m.ID,
		Name:           m.Name,
		DocumentID:     m.DocumentID,
		CreatedAt:      m.CreatedAt,
		DeletedAt:      m.DeletedAt,
		LifecycleState: m.LifecycleState,
		ExpiresAt:      m.ExpiresAt,
		CreatedBy:      wire.MilestoneCreator{Type: m.CreatedBy.Type, ID: m.CreatedBy.ID},
	}
}

func (s *Session) handleMilestoneList(ctx context.Context, fromClientID string, p wire.MilestoneListReq) error {
	ms, err := s.milestones.List(ctx, s.documentID, p.SnapshotIDs)
	if err != nil {
		return err
	}
	metas := make([]wire.MilestoneMeta, len(ms))
	for i, m := range ms {
		metas[i] = toWireMeta(m)
	}
	reply := wire.NewDocMessage(s.documentID, s.encrypted, wire.MilestoneListResp{Milestones: metas})
	return s.sendTo(ctx, fromClientID, reply)
}

func (s *Session) handleMilestoneSnapshot(ctx context.Context, fromClientID string, p wire.MilestoneSnapshotReq) error {
	m, err := s.milestones.Get(ctx, p.MilestoneID)
	if err != nil {
		return err
	}
	reply := wire.NewDocMessage(s.documentID, s.encrypted, wire.MilestoneSnapshotResp{MilestoneID: m.ID, Snapshot: m.Snapshot})
	return s.sendTo(ctx, fromClientID, reply)
}

func (s *Session) handleMilestoneCreate(ctx context.Context, fromClientID string, p wire.MilestoneCreateReq) error {
	name := p.Name
	if !p.HasName {
		name = autoMilestoneName(s.now())
	}
	id := uuid.NewString()

	var createdBy storage.MilestoneCreator
	s.mu.Lock()
	if c, ok := s.clients[fromClientID]; ok {
		createdBy = storage.MilestoneCreator{Type: "user", ID: c.UserID}
	}
	s.mu.Unlock()

	m := storage.Milestone{
		ID:         id,
		Name:       name,
		DocumentID: s.documentID,
		CreatedAt:  uint64(s.now().Unix()),
		CreatedBy:  createdBy,
		Snapshot:   p.Snapshot,
	}
	if err := s.milestones.Create(ctx, m); err != nil {
		return err
	}

	reply := wire.NewDocMessage(s.documentID, s.encrypted, wire.MilestoneCreateResp{Milestone: toWireMeta(m)})
	if err := s.sendTo(ctx, fromClientID, reply); err != nil {
		return err
	}
	s.broadcastExcept(ctx, reply, fromClientID)
	return nil
}

func (s *Session) handleMilestoneRename(ctx context.Context, fromClientID string, p wire.MilestoneRenameReq) error {
	m, err := s.milestones.Rename(ctx, p.MilestoneID, p.Name)
	if err != nil {
		return err
	}
	reply := wire.NewDocMessage(s.documentID, s.encrypted, wire.MilestoneRenameResp{Milestone: toWireMeta(*m)})
	return s.sendTo(ctx, fromClientID, reply)
}

func (s *Session) handleMilestoneSoftDelete(ctx context.Context, fromClientID string, p wire.MilestoneSoftDeleteReq) error {
	if err := s.milestones.SoftDelete(ctx, p.MilestoneID, uint64(s.now().Unix())); err != nil {
		return err
	}
	reply := wire.NewDocMessage(s.documentID, s.encrypted, wire.MilestoneSoftDeleteResp{MilestoneID: p.MilestoneID})
	return s.sendTo(ctx, fromClientID, reply)
}

func (s *Session) handleMilestoneRestore(ctx context.Context, fromClientID string, p wire.MilestoneRestoreReq) error {
	if err := s.milestones.Restore(ctx, p.MilestoneID); err != nil {
		return err
	}
	reply := wire.NewDocMessage(s.documentID, s.encrypted, wire.MilestoneRestoreResp{MilestoneID: p.MilestoneID})
	return s.sendTo(ctx, fromClientID, reply)
}
