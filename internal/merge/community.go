package merge

import (
	"context"
	"sync"

	"github.com/kgraphrag/kgraphrag/internal/ids"
	"github.com/kgraphrag/kgraphrag/internal/obs"
	"github.com/kgraphrag/kgraphrag/internal/storage"
	"github.com/kgraphrag/kgraphrag/model"
)

// communityState is the dirty flag behind the eventual community recompute:
// merges mark it, a later RebalanceCommunities call pays the O(V+E)
// detection outside the merge lock.
type communityState struct {
	mu    sync.Mutex
	dirty bool
}

func (e *Engine) markCommunityDirty() {
	e.community.mu.Lock()
	e.community.dirty = true
	e.community.mu.Unlock()
}

// CommunityDirty reports whether a recompute is pending.
func (e *Engine) CommunityDirty() bool {
	e.community.mu.Lock()
	defer e.community.mu.Unlock()
	return e.community.dirty
}

// RebalanceCommunities recomputes community assignments if any merge since
// the last recompute marked them dirty, rewriting entity_community on node
// records and refreshing the entity vector payloads that embed the tag.
func (e *Engine) RebalanceCommunities(ctx context.Context) error {
	e.community.mu.Lock()
	if !e.community.dirty {
		e.community.mu.Unlock()
		return nil
	}
	e.community.dirty = false
	e.community.mu.Unlock()

	assignment, err := e.graph.DetectCommunities(ctx)
	if err != nil {
		e.markCommunityDirty()
		return obs.WrapErr("detect communities", err)
	}

	payloads := map[string]storage.VectorRecord{}
	for name, community := range assignment {
		node, ok, err := e.graph.GetNode(ctx, name)
		if err != nil {
			e.markCommunityDirty()
			return obs.WrapErr("load node for community tag", err)
		}
		if !ok || node.Community == community {
			continue
		}
		if err := e.graph.UpdateNodeCommunity(ctx, name, community); err != nil {
			e.markCommunityDirty()
			return obs.WrapErr("write community tag", err)
		}
		node.Community = community
		node.Metadata = map[string]any{"lifecycle": string(model.EntityStateCommunityTagged)}
		if err := e.graph.UpsertNode(ctx, node); err != nil {
			e.markCommunityDirty()
			return obs.WrapErr("write community lifecycle", err)
		}
		payloads[ids.Entity(name)] = entityVectorRecord(node)
	}

	if len(payloads) > 0 {
		if err := e.vectors.UpsertVectors(ctx, storage.NamespaceEntities, payloads); err != nil {
			return obs.WrapErr("refresh entity vectors after community tag", err)
		}
	}
	return nil
}
